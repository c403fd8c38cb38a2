package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// ============================================================================
// Layer naming
// ============================================================================

type layerNamingRule struct {
	rs       *RuleSet
	patterns []*regexp.Regexp
}

func newLayerNamingRule(rs *RuleSet) *layerNamingRule {
	return &layerNamingRule{rs: rs, patterns: compileAll(rs.Layers.Patterns)}
}

func (r *layerNamingRule) Code() string { return CodeLayerNaming }

func (r *layerNamingRule) approved(name string) bool {
	for _, p := range r.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

func (r *layerNamingRule) Evaluate(m *models.DrawingModel) []models.Violation {
	counts := make(map[string]int)
	for _, e := range m.Entities {
		counts[e.Layer]++
	}

	var out []models.Violation
	for _, name := range m.LayerNames() {
		if r.approved(name) {
			continue
		}
		out = append(out, models.Violation{
			RuleCode:    r.Code(),
			Type:        models.ViolationTypeLayer,
			Severity:    models.SeverityCritical,
			Rule:        ruleLabel(r.rs, "表6 - 图层命名"),
			Description: fmt.Sprintf("图层名称 %q 不符合标准图层命名规则", name),
			Layer:       name,
			EntityDetails: map[string]any{
				"layer":        name,
				"entity_count": counts[name],
			},
			Suggestion: "按标准图层编号重命名，如 01粗实线、02细实线、05细点画线、08尺寸线",
		})
	}
	return out
}

// ============================================================================
// Undefined layer reference
// ============================================================================

type undefinedLayerRule struct {
	rs *RuleSet
}

func newUndefinedLayerRule(rs *RuleSet) *undefinedLayerRule {
	return &undefinedLayerRule{rs: rs}
}

func (r *undefinedLayerRule) Code() string { return CodeLayerUndefined }

func (r *undefinedLayerRule) Evaluate(m *models.DrawingModel) []models.Violation {
	var out []models.Violation
	for _, e := range m.Entities {
		// Layer 0 always exists even when the LAYER table omits it.
		if e.Layer == "0" {
			continue
		}
		if _, ok := m.Layer(e.Layer); ok {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeLayer
		v.Severity = models.SeverityCritical
		v.Rule = ruleLabel(r.rs, "表6 - 图层定义")
		v.Description = fmt.Sprintf("%s 实体引用了未定义的图层 %q", e.Kind, e.Layer)
		v.EntityDetails = map[string]any{"entity_type": string(e.Kind)}
		v.Suggestion = "在图层表中定义该图层，或将实体移至已定义的标准图层"
		out = append(out, v)
	}
	return out
}

// ============================================================================
// Annotation placement
// ============================================================================

type layerPlacementRule struct {
	rs *RuleSet
}

func newLayerPlacementRule(rs *RuleSet) *layerPlacementRule {
	return &layerPlacementRule{rs: rs}
}

func (r *layerPlacementRule) Code() string { return CodeLayerPlacement }

func (r *layerPlacementRule) Evaluate(m *models.DrawingModel) []models.Violation {
	dimNames := r.rs.Layers.DimensionNames
	textNames := r.rs.Layers.TextNames

	var out []models.Violation
	for _, e := range m.Entities {
		switch {
		case e.Kind == models.EntityDimension && len(dimNames) > 0:
			if containsFold(e.Layer, dimNames) {
				continue
			}
			v := entityViolation(r.Code(), e)
			v.Type = models.ViolationTypeLayer
			v.Severity = models.SeverityWarning
			v.Rule = ruleLabel(r.rs, "表6 - 图层规则")
			v.Description = fmt.Sprintf("尺寸标注应位于专用图层（如：%s），当前位于: %s", strings.Join(dimNames, ", "), e.Layer)
			v.Suggestion = fmt.Sprintf("将尺寸标注移至 %s 图层", dimNames[0])
			out = append(out, v)

		case e.Kind.IsText() && len(textNames) > 0:
			if containsFold(e.Layer, textNames) || containsFold(e.Layer, dimNames) {
				continue
			}
			v := entityViolation(r.Code(), e)
			v.Type = models.ViolationTypeLayer
			v.Severity = models.SeverityInfo
			v.Rule = ruleLabel(r.rs, "表6 - 图层规则")
			v.Description = fmt.Sprintf("文字应位于专用图层（如：%s），当前位于: %s", strings.Join(textNames, ", "), e.Layer)
			v.Suggestion = fmt.Sprintf("将文字移至 %s 图层", textNames[0])
			out = append(out, v)
		}
	}
	return out
}
