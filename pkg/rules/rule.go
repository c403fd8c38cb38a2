// Package rules evaluates drawing compliance rules against a parsed
// DrawingModel.
package rules

import (
	"math"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// Rule is one independent compliance policy. Evaluate must be pure: the
// same model always yields the same violations, and the model is never
// modified.
type Rule interface {
	Code() string
	Evaluate(m *models.DrawingModel) []models.Violation
}

// Rule codes.
const (
	CodeLayerNaming    = "LAYER-NAMING"
	CodeLayerUndefined = "LAYER-UNDEFINED"
	CodeLayerPlacement = "LAYER-PLACEMENT"
	CodeOutlineWeight  = "LINEWEIGHT-OUTLINE"
	CodeStandardWeight = "LINEWEIGHT-STANDARD"
	CodeFontStyle      = "FONT-STYLE"
	CodeFontHeight     = "FONT-HEIGHT"
	CodeTextEmpty      = "TEXT-EMPTY"
	CodeDimArrow       = "DIM-ARROW"
	CodeDimUnit        = "DIM-UNIT"
	CodeDimTextHeight  = "DIM-TEXT-HEIGHT"
	CodeColorByLayer   = "COLOR-BYLAYER"
	CodeCoincidence    = "GEOM-COINCIDENT"
)

// BuildRules instantiates every enabled rule family from a validated rule set.
func BuildRules(rs *RuleSet) []Rule {
	all := []Rule{
		newLayerNamingRule(rs),
		newUndefinedLayerRule(rs),
		newLayerPlacementRule(rs),
		newOutlineLineweightRule(rs),
		newStandardLineweightRule(rs),
		newFontStyleRule(rs),
		newFontHeightRule(rs),
		newEmptyTextRule(rs),
		newDimensionArrowRule(rs),
		newDimensionUnitRule(rs),
		newDimensionTextHeightRule(rs),
		newColorByLayerRule(rs),
		newCoincidenceRule(rs),
	}
	enabled := all[:0]
	for _, r := range all {
		if !rs.disabled(r.Code()) {
			enabled = append(enabled, r)
		}
	}
	return enabled
}

// entityViolation starts a violation for an entity, filling handle, layer and location.
func entityViolation(code string, e *models.DrawingEntity) models.Violation {
	v := models.Violation{
		RuleCode:     code,
		EntityHandle: e.Handle,
		Layer:        e.Layer,
	}
	if p := e.Anchor(); p != nil {
		v.Location = &models.Location{X: round(p.X), Y: round(p.Y)}
	}
	return v
}

func ruleLabel(rs *RuleSet, clause string) string {
	return rs.Standard + " " + clause
}

// round trims float noise so reports stay byte-stable.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func mm(lineweight int) float64 {
	return float64(lineweight) / 100
}

func containsFold(s string, subs []string) bool {
	upper := strings.ToUpper(s)
	for _, sub := range subs {
		if strings.Contains(upper, strings.ToUpper(sub)) {
			return true
		}
	}
	return false
}

func nearestWithin(v float64, set []float64, tol float64) bool {
	for _, s := range set {
		if math.Abs(v-s) <= tol+1e-9 {
			return true
		}
	}
	return false
}

func nearest(v float64, set []float64) float64 {
	best := set[0]
	for _, s := range set[1:] {
		if math.Abs(v-s) < math.Abs(v-best) {
			best = s
		}
	}
	return best
}
