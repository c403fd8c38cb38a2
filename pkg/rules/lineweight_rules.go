package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

func formatWeights(set []float64) string {
	parts := make([]string, len(set))
	for i, w := range set {
		parts[i] = strconv.FormatFloat(w, 'f', -1, 64) + "mm"
	}
	return strings.Join(parts, ", ")
}

type outlineClassifier []*regexp.Regexp

func (c outlineClassifier) isOutline(layer string) bool {
	for _, p := range c {
		if p.MatchString(layer) {
			return true
		}
	}
	return false
}

// ============================================================================
// Outline layers: allowed weight set (Critical)
// ============================================================================

type outlineLineweightRule struct {
	rs      *RuleSet
	outline outlineClassifier
}

func newOutlineLineweightRule(rs *RuleSet) *outlineLineweightRule {
	return &outlineLineweightRule{rs: rs, outline: compileAll(rs.Layers.Outline)}
}

func (r *outlineLineweightRule) Code() string { return CodeOutlineWeight }

func (r *outlineLineweightRule) Evaluate(m *models.DrawingModel) []models.Violation {
	allowed := r.rs.Lineweights.OutlineAllowed
	tol := r.rs.Lineweights.Tolerance

	var out []models.Violation
	for _, e := range m.Entities {
		if !e.Kind.IsCurve() || !r.outline.isOutline(e.Layer) {
			continue
		}
		lw, ok := m.EffectiveLineweight(e)
		if !ok {
			continue
		}
		w := mm(lw)
		if nearestWithin(w, allowed, tol) {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeLineWeight
		v.Severity = models.SeverityCritical
		v.Rule = ruleLabel(r.rs, "表1 - 粗实线线宽")
		v.Description = fmt.Sprintf("轮廓线线宽 %.2fmm 不符合要求，允许线宽: %s", w, formatWeights(allowed))
		v.EntityDetails = map[string]any{
			"entity_type":   string(e.Kind),
			"lineweight_mm": w,
			"by_layer":      e.Lineweight == models.LineweightByLayer,
		}
		v.Suggestion = fmt.Sprintf("将线宽设置为 %gmm", nearest(w, allowed))
		out = append(out, v)
	}
	return out
}

// ============================================================================
// Other explicit weights: standard series (Warning)
// ============================================================================

type standardLineweightRule struct {
	rs      *RuleSet
	outline outlineClassifier
}

func newStandardLineweightRule(rs *RuleSet) *standardLineweightRule {
	return &standardLineweightRule{rs: rs, outline: compileAll(rs.Layers.Outline)}
}

func (r *standardLineweightRule) Code() string { return CodeStandardWeight }

func (r *standardLineweightRule) Evaluate(m *models.DrawingModel) []models.Violation {
	std := r.rs.Lineweights.Standard
	if len(std) == 0 {
		return nil
	}
	tol := r.rs.Lineweights.Tolerance
	label := ruleLabel(r.rs, "表1 - 线宽规则")

	var out []models.Violation
	for _, name := range m.LayerNames() {
		l := m.Layers[name]
		if l.Lineweight < 0 || r.outline.isOutline(name) {
			continue
		}
		w := mm(l.Lineweight)
		if nearestWithin(w, std, tol) {
			continue
		}
		out = append(out, models.Violation{
			RuleCode:      r.Code(),
			Type:          models.ViolationTypeLineWeight,
			Severity:      models.SeverityWarning,
			Rule:          label,
			Description:   fmt.Sprintf("图层 %q 线宽 %.2fmm 不符合标准线宽系列", name, w),
			Layer:         name,
			EntityDetails: map[string]any{"lineweight_mm": w},
			Suggestion:    fmt.Sprintf("使用标准线宽: %gmm", nearest(w, std)),
		})
	}

	for _, e := range m.Entities {
		if !e.Kind.IsCurve() || e.Lineweight < 0 || r.outline.isOutline(e.Layer) {
			continue
		}
		w := mm(e.Lineweight)
		if nearestWithin(w, std, tol) {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeLineWeight
		v.Severity = models.SeverityWarning
		v.Rule = label
		v.Description = fmt.Sprintf("线宽 %.2fmm 不符合标准。标准线宽: %s", w, formatWeights(std))
		v.EntityDetails = map[string]any{
			"entity_type":   string(e.Kind),
			"lineweight_mm": w,
		}
		v.Suggestion = fmt.Sprintf("使用标准线宽: %gmm", nearest(w, std))
		out = append(out, v)
	}
	return out
}
