package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// defaultArrow names the closed filled arrowhead used when DIMBLK is empty.
const defaultArrow = "ClosedFilled"

// Dimension types whose value is an angle and carries no length unit.
const (
	dimTypeAngular    = 2
	dimTypeAngular3Pt = 5
)

// defaultDimSize is DIMASZ and DIMTXT when no style defines them.
const defaultDimSize = 2.5

type dimProps struct {
	arrowBlock string
	arrowSize  float64
	textHeight float64
	post       string
}

// effectiveDim merges the entity's overrides over its dimension style.
func effectiveDim(m *models.DrawingModel, e *models.DrawingEntity) dimProps {
	p := dimProps{arrowSize: defaultDimSize, textHeight: defaultDimSize}
	if ds, ok := m.DimStyles[e.DimStyle]; ok {
		p.arrowBlock = ds.ArrowBlock
		p.arrowSize = ds.ArrowSize
		p.textHeight = ds.TextHeight
		p.post = ds.PostText
	}
	if e.ArrowBlock != "" {
		p.arrowBlock = e.ArrowBlock
	}
	if e.ArrowSize > 0 {
		p.arrowSize = e.ArrowSize
	}
	if e.DimTextHeight > 0 {
		p.textHeight = e.DimTextHeight
	}
	if e.DimPost != "" {
		p.post = e.DimPost
	}
	if p.arrowBlock == "" {
		p.arrowBlock = defaultArrow
	}
	return p
}

type dimGroup struct {
	key      string
	entities []*models.DrawingEntity
}

func (g dimGroup) handles() []string {
	out := make([]string, len(g.entities))
	for i, e := range g.entities {
		out[i] = e.Handle
	}
	return out
}

// groupViolation anchors a group violation on its first entity in file order.
func groupViolation(code string, g dimGroup) models.Violation {
	v := entityViolation(code, g.entities[0])
	v.EntityDetails = map[string]any{
		"count":   len(g.entities),
		"handles": g.handles(),
	}
	return v
}

// ============================================================================
// Arrow style consistency (Warning per minority group)
// ============================================================================

type dimensionArrowRule struct {
	rs *RuleSet
}

func newDimensionArrowRule(rs *RuleSet) *dimensionArrowRule {
	return &dimensionArrowRule{rs: rs}
}

func (r *dimensionArrowRule) Code() string { return CodeDimArrow }

func (r *dimensionArrowRule) Evaluate(m *models.DrawingModel) []models.Violation {
	byKey := make(map[string]*dimGroup)
	props := make(map[string]dimProps)
	for _, e := range m.EntitiesOfKind(models.EntityDimension) {
		p := effectiveDim(m, e)
		key := fmt.Sprintf("%s@%g", p.arrowBlock, round(p.arrowSize))
		g, ok := byKey[key]
		if !ok {
			g = &dimGroup{key: key}
			byKey[key] = g
			props[key] = p
		}
		g.entities = append(g.entities, e)
	}
	if len(byKey) < 2 {
		return nil
	}

	groups := make([]*dimGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].entities) != len(groups[j].entities) {
			return len(groups[i].entities) > len(groups[j].entities)
		}
		return groups[i].key < groups[j].key
	})

	dominant := props[groups[0].key]
	total := 0
	for _, g := range groups {
		total += len(g.entities)
	}

	var out []models.Violation
	for _, g := range groups[1:] {
		p := props[g.key]
		v := groupViolation(r.Code(), *g)
		v.Type = models.ViolationTypeDimension
		v.Severity = models.SeverityWarning
		v.Rule = ruleLabel(r.rs, "6.3 - 尺寸终端一致性")
		v.Description = fmt.Sprintf("%d 个尺寸标注使用终端 %s (%.2fmm)，与图中主要终端 %s (%.2fmm) 不一致，一致性 %.1f%%",
			len(g.entities), p.arrowBlock, p.arrowSize, dominant.arrowBlock, dominant.arrowSize,
			float64(len(groups[0].entities))*100/float64(total))
		v.EntityDetails["arrow_block"] = p.arrowBlock
		v.EntityDetails["arrow_size"] = round(p.arrowSize)
		v.EntityDetails["dominant_arrow_block"] = dominant.arrowBlock
		v.EntityDetails["dominant_arrow_size"] = round(dominant.arrowSize)
		v.Suggestion = fmt.Sprintf("统一使用相同的尺寸终端样式（当前主要使用 %s，箭头大小 %.1fmm）", dominant.arrowBlock, dominant.arrowSize)
		out = append(out, v)
	}
	return out
}

// ============================================================================
// Unit suffix (Warning for the group of dimensions lacking one)
// ============================================================================

type dimensionUnitRule struct {
	rs *RuleSet
}

func newDimensionUnitRule(rs *RuleSet) *dimensionUnitRule {
	return &dimensionUnitRule{rs: rs}
}

func (r *dimensionUnitRule) Code() string { return CodeDimUnit }

func (r *dimensionUnitRule) showsUnit(m *models.DrawingModel, e *models.DrawingEntity) bool {
	override := strings.TrimSpace(e.TextOverride)
	if override != "" && override != "<>" && !strings.Contains(override, "<>") {
		// Fixed text replaces the measurement entirely.
		return containsFold(override, r.rs.Dimensions.UnitSuffixes)
	}
	if containsFold(override, r.rs.Dimensions.UnitSuffixes) {
		return true
	}
	return containsFold(effectiveDim(m, e).post, r.rs.Dimensions.UnitSuffixes)
}

func (r *dimensionUnitRule) Evaluate(m *models.DrawingModel) []models.Violation {
	if !r.rs.Dimensions.RequireUnitSuffix || len(r.rs.Dimensions.UnitSuffixes) == 0 {
		return nil
	}
	var missing dimGroup
	for _, e := range m.EntitiesOfKind(models.EntityDimension) {
		if e.DimType == dimTypeAngular || e.DimType == dimTypeAngular3Pt {
			continue
		}
		if !r.showsUnit(m, e) {
			missing.entities = append(missing.entities, e)
		}
	}
	if len(missing.entities) == 0 {
		return nil
	}

	v := groupViolation(r.Code(), missing)
	v.Type = models.ViolationTypeDimension
	v.Severity = models.SeverityWarning
	v.Rule = ruleLabel(r.rs, "尺寸单位标注")
	v.Description = fmt.Sprintf("%d 个尺寸标注未显示单位后缀（%s）", len(missing.entities), strings.Join(r.rs.Dimensions.UnitSuffixes, "/"))
	v.Suggestion = fmt.Sprintf("在标注样式中设置后缀 (DIMPOST) 为 %s", r.rs.Dimensions.UnitSuffixes[0])
	return []models.Violation{v}
}

// ============================================================================
// Dimension text height (Warning per entity)
// ============================================================================

type dimensionTextHeightRule struct {
	rs *RuleSet
}

func newDimensionTextHeightRule(rs *RuleSet) *dimensionTextHeightRule {
	return &dimensionTextHeightRule{rs: rs}
}

func (r *dimensionTextHeightRule) Code() string { return CodeDimTextHeight }

func (r *dimensionTextHeightRule) Evaluate(m *models.DrawingModel) []models.Violation {
	minH := r.rs.Dimensions.MinTextHeight
	if minH <= 0 {
		return nil
	}
	var out []models.Violation
	for _, e := range m.EntitiesOfKind(models.EntityDimension) {
		h := effectiveDim(m, e).textHeight
		if h <= 0 || h >= minH {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeDimension
		v.Severity = models.SeverityWarning
		v.Rule = ruleLabel(r.rs, "尺寸文字高度")
		v.Description = fmt.Sprintf("尺寸文字高度 %.1fmm 过小，最小推荐: %gmm", h, minH)
		v.EntityDetails = map[string]any{"text_height": round(h), "dim_style": e.DimStyle}
		v.Suggestion = fmt.Sprintf("将尺寸文字高度调整至 %gmm 以上", minH)
		out = append(out, v)
	}
	return out
}
