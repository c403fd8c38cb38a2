package rules

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// ============================================================================
// Text style (Warning)
// ============================================================================

type fontStyleRule struct {
	rs     *RuleSet
	styles map[string]bool
	fonts  map[string]bool
}

func newFontStyleRule(rs *RuleSet) *fontStyleRule {
	r := &fontStyleRule{rs: rs, styles: make(map[string]bool), fonts: make(map[string]bool)}
	for _, s := range rs.Fonts.ApprovedStyles {
		r.styles[strings.ToUpper(s)] = true
	}
	for _, f := range rs.Fonts.ApprovedFonts {
		r.fonts[strings.ToLower(f)] = true
	}
	return r
}

func (r *fontStyleRule) Code() string { return CodeFontStyle }

// approved accepts a style by name, or by the font files its table entry uses.
func (r *fontStyleRule) approved(m *models.DrawingModel, style string) bool {
	if r.styles[strings.ToUpper(style)] {
		return true
	}
	st, ok := m.TextStyles[style]
	if !ok {
		return false
	}
	return r.fonts[strings.ToLower(st.FontFile)] || (st.BigFont != "" && r.fonts[strings.ToLower(st.BigFont)])
}

func (r *fontStyleRule) Evaluate(m *models.DrawingModel) []models.Violation {
	if len(r.styles) == 0 && len(r.fonts) == 0 {
		return nil
	}
	var out []models.Violation
	for _, e := range m.Entities {
		if !e.Kind.IsText() || r.approved(m, e.StyleRef) {
			continue
		}
		font := ""
		if st, ok := m.TextStyles[e.StyleRef]; ok {
			font = st.FontFile
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeFont
		v.Severity = models.SeverityWarning
		v.Rule = ruleLabel(r.rs, "表3 - 字体规则")
		v.Description = fmt.Sprintf("文字样式 %q 未使用标准字体", e.StyleRef)
		v.EntityDetails = map[string]any{
			"style": e.StyleRef,
			"font":  font,
		}
		v.Suggestion = "使用长仿宋体文字样式（如 gbenor.shx / gbcbig.shx）"
		out = append(out, v)
	}
	return out
}

// ============================================================================
// Text height (Warning below minimum, Info above maximum)
// ============================================================================

type fontHeightRule struct {
	rs *RuleSet
}

func newFontHeightRule(rs *RuleSet) *fontHeightRule {
	return &fontHeightRule{rs: rs}
}

func (r *fontHeightRule) Code() string { return CodeFontHeight }

func (r *fontHeightRule) Evaluate(m *models.DrawingModel) []models.Violation {
	minH, maxH := r.rs.Fonts.MinHeight, r.rs.Fonts.MaxHeight
	var out []models.Violation
	for _, e := range m.Entities {
		if !e.Kind.IsText() {
			continue
		}
		h := e.Height
		if h == 0 {
			if st, ok := m.TextStyles[e.StyleRef]; ok {
				h = st.Height
			}
		}
		if h <= 0 {
			continue
		}

		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeFont
		v.Rule = ruleLabel(r.rs, "表3 - 字体规则")
		v.EntityDetails = map[string]any{"height": round(h)}
		switch {
		case minH > 0 && h < minH:
			v.Severity = models.SeverityWarning
			v.Description = fmt.Sprintf("文字高度 %.1fmm 过小，最小允许: %gmm", h, minH)
			v.Suggestion = fmt.Sprintf("将文字高度调整至 %gmm 以上", minH)
		case maxH > 0 && h > maxH:
			v.Severity = models.SeverityInfo
			v.Description = fmt.Sprintf("文字高度 %.1fmm 过大，建议不超过: %gmm", h, maxH)
			v.Suggestion = fmt.Sprintf("将文字高度调整至 %gmm 以内", maxH)
		default:
			continue
		}
		out = append(out, v)
	}
	return out
}

// ============================================================================
// Empty text (Info)
// ============================================================================

type emptyTextRule struct {
	rs *RuleSet
}

func newEmptyTextRule(rs *RuleSet) *emptyTextRule {
	return &emptyTextRule{rs: rs}
}

func (r *emptyTextRule) Code() string { return CodeTextEmpty }

func (r *emptyTextRule) Evaluate(m *models.DrawingModel) []models.Violation {
	if !r.rs.Text.FlagEmpty {
		return nil
	}
	var out []models.Violation
	for _, e := range m.Entities {
		if !e.Kind.IsText() || strings.TrimSpace(e.Text) != "" {
			continue
		}
		v := entityViolation(r.Code(), e)
		v.Type = models.ViolationTypeText
		v.Severity = models.SeverityInfo
		v.Rule = ruleLabel(r.rs, "文字内容")
		v.Description = fmt.Sprintf("%s 实体不包含可见文字", e.Kind)
		v.EntityDetails = map[string]any{"entity_type": string(e.Kind)}
		v.Suggestion = "删除空文字实体或补充文字内容"
		out = append(out, v)
	}
	return out
}
