package models

// ViolationType classifies which family of drawing rule was broken.
// Wire values are the labels the report front-end renders and filters on.
type ViolationType string

const (
	ViolationTypeLayer      ViolationType = "图层错误"
	ViolationTypeLineWeight ViolationType = "线宽错误"
	ViolationTypeColor      ViolationType = "颜色错误"
	ViolationTypeFont       ViolationType = "字体错误"
	ViolationTypeDimension  ViolationType = "尺寸标注错误"
	ViolationTypeText       ViolationType = "文字错误"
	ViolationTypeGeometry   ViolationType = "几何错误"
)

// ViolationTypes lists every violation type in canonical order.
var ViolationTypes = []ViolationType{
	ViolationTypeLayer,
	ViolationTypeLineWeight,
	ViolationTypeColor,
	ViolationTypeFont,
	ViolationTypeDimension,
	ViolationTypeText,
	ViolationTypeGeometry,
}

var violationTypeNames = map[ViolationType]string{
	ViolationTypeLayer:      "LayerError",
	ViolationTypeLineWeight: "LineWeightError",
	ViolationTypeColor:      "ColorError",
	ViolationTypeFont:       "FontError",
	ViolationTypeDimension:  "DimensionError",
	ViolationTypeText:       "TextError",
	ViolationTypeGeometry:   "GeometryError",
}

// Name returns the English identifier of the type (e.g. "LayerError").
func (t ViolationType) Name() string {
	if n, ok := violationTypeNames[t]; ok {
		return n
	}
	return string(t)
}

// Rank orders types by their position in ViolationTypes; unknown types sort last.
func (t ViolationType) Rank() int {
	for i, v := range ViolationTypes {
		if v == t {
			return i
		}
	}
	return len(ViolationTypes)
}

// Severity is how strongly a violation counts against compliance.
type Severity string

const (
	SeverityCritical Severity = "严重"
	SeverityWarning  Severity = "警告"
	SeverityInfo     Severity = "提示"
)

// Rank orders severities Critical < Warning < Info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Name returns the English identifier of the severity.
func (s Severity) Name() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return string(s)
	}
}

// Location is a drawing-space point in millimetres.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Violation is a single rule failure found in a drawing.
// Violations are immutable once produced by the rule engine.
type Violation struct {
	ID            string         `json:"id"`
	Type          ViolationType  `json:"type"`
	Severity      Severity       `json:"severity"`
	Rule          string         `json:"rule"`
	Description   string         `json:"description"`
	EntityHandle  string         `json:"entity_handle,omitempty"`
	Layer         string         `json:"layer,omitempty"`
	Location      *Location      `json:"location,omitempty"`
	EntityDetails map[string]any `json:"entity_details,omitempty"`
	Suggestion    string         `json:"suggestion,omitempty"`

	// RuleCode identifies the rule implementation that produced the violation.
	// Used for ordering and ID derivation, not serialized.
	RuleCode string `json:"-"`
}
