package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// coincidenceRule flags circles and arcs that share a nominal center
// (within NominalRadius) but whose centers differ by more than Epsilon.
type coincidenceRule struct {
	rs *RuleSet
}

func newCoincidenceRule(rs *RuleSet) *coincidenceRule {
	return &coincidenceRule{rs: rs}
}

func (r *coincidenceRule) Code() string { return CodeCoincidence }

func (r *coincidenceRule) Evaluate(m *models.DrawingModel) []models.Violation {
	nominal, eps := r.rs.Geometry.NominalRadius, r.rs.Geometry.Epsilon

	curves := m.EntitiesOfKind(models.EntityCircle, models.EntityArc)
	idx := make([]int, 0, len(curves))
	for i, e := range curves {
		if e.Geometry.Center != nil {
			idx = append(idx, i)
		}
	}
	// Sweep along X; stable order keeps pair discovery deterministic.
	sort.SliceStable(idx, func(a, b int) bool {
		return curves[idx[a]].Geometry.Center.X < curves[idx[b]].Geometry.Center.X
	})

	var out []models.Violation
	for a := 0; a < len(idx); a++ {
		ea := curves[idx[a]]
		ca := ea.Geometry.Center
		for b := a + 1; b < len(idx); b++ {
			eb := curves[idx[b]]
			cb := eb.Geometry.Center
			if cb.X-ca.X > nominal {
				break
			}
			d := math.Hypot(cb.X-ca.X, cb.Y-ca.Y)
			if d <= eps || d > nominal {
				continue
			}
			first, second := ea, eb
			if idx[b] < idx[a] {
				first, second = eb, ea
			}
			out = append(out, r.violation(first, second, d))
		}
	}
	return out
}

func (r *coincidenceRule) violation(a, b *models.DrawingEntity, d float64) models.Violation {
	v := entityViolation(r.Code(), a)
	v.Type = models.ViolationTypeGeometry
	v.Severity = models.SeverityWarning
	v.Rule = ruleLabel(r.rs, "同心要素定位")
	v.Description = fmt.Sprintf("%s %s 与 %s %s 圆心应重合，实际偏差 %.3fmm（允许 %gmm）",
		a.Kind, a.Handle, b.Kind, b.Handle, d, r.rs.Geometry.Epsilon)
	v.EntityDetails = map[string]any{
		"other_handle": b.Handle,
		"other_layer":  b.Layer,
		"distance_mm":  round(d),
		"radius":       round(a.Geometry.Radius),
		"other_radius": round(b.Geometry.Radius),
	}
	v.Suggestion = "使用圆心捕捉使两圆心重合，或确认两者确为非同心要素"
	return v
}
