package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultStandard is the standard id the built-in rule set registers under.
const DefaultStandard = "GB/T 14665-2012"

// RuleSet holds the tunable parameters of every rule family for one
// standard. It is loaded from YAML; zero sections fall back to defaults.
type RuleSet struct {
	Standard    string          `yaml:"standard"`
	Disabled    []string        `yaml:"disabled"`
	Layers      LayerRules      `yaml:"layers"`
	Lineweights LineweightRules `yaml:"lineweights"`
	Fonts       FontRules       `yaml:"fonts"`
	Text        TextRules       `yaml:"text"`
	Dimensions  DimensionRules  `yaml:"dimensions"`
	Colors      ColorRules      `yaml:"colors"`
	Geometry    GeometryRules   `yaml:"geometry"`
}

// LayerRules configures layer naming and placement.
type LayerRules struct {
	// Patterns are regular expressions; a layer name must match at least one.
	Patterns []string `yaml:"patterns"`
	// Outline patterns classify layers that carry visible outlines.
	Outline []string `yaml:"outline"`
	// DimensionNames and TextNames are case-insensitive substrings that
	// identify dedicated annotation layers.
	DimensionNames []string `yaml:"dimension_names"`
	TextNames      []string `yaml:"text_names"`
}

// LineweightRules configures stroke weight checks. Values are millimetres.
type LineweightRules struct {
	OutlineAllowed []float64 `yaml:"outline_allowed"`
	Standard       []float64 `yaml:"standard"`
	Tolerance      float64   `yaml:"tolerance"`
}

// FontRules configures text style and height checks.
type FontRules struct {
	ApprovedStyles []string `yaml:"approved_styles"`
	ApprovedFonts  []string `yaml:"approved_fonts"`
	MinHeight      float64  `yaml:"min_height"`
	MaxHeight      float64  `yaml:"max_height"`
}

// TextRules configures text content checks.
type TextRules struct {
	FlagEmpty bool `yaml:"flag_empty"`
}

// DimensionRules configures dimension consistency checks.
type DimensionRules struct {
	RequireUnitSuffix bool     `yaml:"require_unit_suffix"`
	UnitSuffixes      []string `yaml:"unit_suffixes"`
	MinTextHeight     float64  `yaml:"min_text_height"`
}

// ColorRules configures the color-by-layer check.
type ColorRules struct {
	// Allowed lists explicit ACI colors that are not flagged.
	Allowed []int `yaml:"allowed"`
}

// GeometryRules configures the coincidence check. Values are millimetres.
type GeometryRules struct {
	NominalRadius float64 `yaml:"nominal_radius"`
	Epsilon       float64 `yaml:"epsilon"`
}

// DefaultRuleSet returns the built-in GB/T 14665-2012 parameters.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Standard: DefaultStandard,
		Layers: LayerRules{
			Patterns: []string{
				`^0$`,
				`^(?i)defpoints$`,
				// Table 6 layer codes 01..16, optionally followed by a description.
				`^(0[1-9]|1[0-6])(\D.*)?$`,
				`^(粗实线|细实线|波浪线|双折线|粗虚线|细虚线|虚线|细点画线|粗点画线|点画线|中心线|细双点画线|双点画线|尺寸|标注|参考圆|剖面|文字|文本|轮廓|图框|标题栏)`,
				`^(?i)(OUTLINE|THIN|HIDDEN|CENTER|PHANTOM|DIM|TEXT|HATCH|BORDER|TITLE)([_\- ].*)?$`,
			},
			Outline: []string{
				`^01(\D.*)?$`,
				`^(粗实线|轮廓)`,
				`^(?i)OUTLINE`,
			},
			DimensionNames: []string{"DIM", "尺寸", "标注", "08"},
			TextNames:      []string{"TEXT", "文字", "文本", "11", "13"},
		},
		Lineweights: LineweightRules{
			OutlineAllowed: []float64{0.35, 0.5},
			Standard:       []float64{0.13, 0.18, 0.25, 0.35, 0.5, 0.7, 1.0, 1.4, 2.0},
			Tolerance:      0.005,
		},
		Fonts: FontRules{
			ApprovedStyles: []string{"GB", "GBCBIG", "HZ", "长仿宋", "仿宋", "FS"},
			ApprovedFonts:  []string{"gbenor.shx", "gbeitc.shx", "gbcbig.shx", "hztxt.shx", "仿宋", "仿宋_GB2312", "simfang.ttf", "fsdb_e.shx"},
			MinHeight:      2.5,
			MaxHeight:      20,
		},
		Text: TextRules{FlagEmpty: true},
		Dimensions: DimensionRules{
			RequireUnitSuffix: true,
			UnitSuffixes:      []string{"mm"},
			MinTextHeight:     2.5,
		},
		Geometry: GeometryRules{
			NominalRadius: 1.0,
			Epsilon:       0.01,
		},
	}
}

// LoadRuleSet reads a YAML rule set. Sections missing from the file keep
// their default values.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes YAML over the defaults and validates the result.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	rs := DefaultRuleSet()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Validate checks ranges and compiles every pattern.
func (rs *RuleSet) Validate() error {
	if rs.Standard == "" {
		return errors.New("invalid rule set: standard is required")
	}
	for _, p := range append(append([]string{}, rs.Layers.Patterns...), rs.Layers.Outline...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid rule set: layer pattern %q: %w", p, err)
		}
	}
	if len(rs.Lineweights.OutlineAllowed) == 0 {
		return errors.New("invalid rule set: lineweights.outline_allowed must not be empty")
	}
	if rs.Lineweights.Tolerance < 0 {
		return errors.New("invalid rule set: lineweights.tolerance must not be negative")
	}
	if rs.Fonts.MaxHeight > 0 && rs.Fonts.MinHeight > rs.Fonts.MaxHeight {
		return errors.New("invalid rule set: fonts.min_height exceeds fonts.max_height")
	}
	if rs.Geometry.Epsilon <= 0 || rs.Geometry.NominalRadius <= rs.Geometry.Epsilon {
		return errors.New("invalid rule set: geometry requires 0 < epsilon < nominal_radius")
	}
	return nil
}

func (rs *RuleSet) disabled(code string) bool {
	for _, c := range rs.Disabled {
		if c == code {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
