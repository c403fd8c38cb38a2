package rules

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

type colorByLayerRule struct {
	rs      *RuleSet
	allowed map[int]bool
}

func newColorByLayerRule(rs *RuleSet) *colorByLayerRule {
	r := &colorByLayerRule{rs: rs, allowed: make(map[int]bool)}
	for _, c := range rs.Colors.Allowed {
		r.allowed[c] = true
	}
	return r
}

func (r *colorByLayerRule) Code() string { return CodeColorByLayer }

func (r *colorByLayerRule) Evaluate(m *models.DrawingModel) []models.Violation {
	var out []models.Violation
	for _, e := range m.Entities {
		if e.Color == models.ColorByLayer || e.Color == models.ColorByBlock || r.allowed[e.Color] {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeColor
		v.Severity = models.SeverityInfo
		v.Rule = ruleLabel(r.rs, "表2 - 颜色规则")
		v.Description = fmt.Sprintf("%s 实体使用了显式颜色 %d，未随层", e.Kind, e.Color)
		v.EntityDetails = map[string]any{
			"entity_type": string(e.Kind),
			"color":       e.Color,
		}
		if l, ok := m.Layer(e.Layer); ok {
			v.EntityDetails["layer_color"] = l.Color
		}
		v.Suggestion = "将实体颜色设置为 ByLayer（随层）以便统一管理"
		out = append(out, v)
	}
	return out
}
