package models

import (
	"sort"
	"strconv"
)

// EntityKind is the DXF entity type name of a drawing entity.
type EntityKind string

const (
	EntityLine       EntityKind = "LINE"
	EntityCircle     EntityKind = "CIRCLE"
	EntityArc        EntityKind = "ARC"
	EntityText       EntityKind = "TEXT"
	EntityMText      EntityKind = "MTEXT"
	EntityDimension  EntityKind = "DIMENSION"
	EntityInsert     EntityKind = "INSERT"
	EntityPolyline   EntityKind = "POLYLINE"
	EntityLWPolyline EntityKind = "LWPOLYLINE"
)

// IsText reports whether the entity carries text content.
func (k EntityKind) IsText() bool {
	return k == EntityText || k == EntityMText
}

// IsCurve reports whether the entity is drawn with a stroke weight.
func (k EntityKind) IsCurve() bool {
	switch k {
	case EntityLine, EntityCircle, EntityArc, EntityPolyline, EntityLWPolyline:
		return true
	}
	return false
}

// Special color and lineweight values from the DXF reference.
const (
	ColorByBlock = 0
	ColorByLayer = 256

	LineweightByLayer = -1
	LineweightByBlock = -2
	LineweightDefault = -3
)

// Point is a 2D drawing coordinate in millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry holds the shape data of an entity. Only the fields meaningful
// for the entity kind are set.
type Geometry struct {
	Start      *Point  `json:"start,omitempty"`
	End        *Point  `json:"end,omitempty"`
	Center     *Point  `json:"center,omitempty"`
	Radius     float64 `json:"radius,omitempty"`
	StartAngle float64 `json:"start_angle,omitempty"`
	EndAngle   float64 `json:"end_angle,omitempty"`
	Insert     *Point  `json:"insert,omitempty"`
	Points     []Point `json:"points,omitempty"`
	Closed     bool    `json:"closed,omitempty"`
}

// DrawingEntity is one node of the parsed entity graph.
type DrawingEntity struct {
	Kind       EntityKind `json:"kind"`
	Handle     string     `json:"handle"`
	Layer      string     `json:"layer"`
	Color      int        `json:"color"`
	Linetype   string     `json:"linetype"`
	Lineweight int        `json:"lineweight"`
	Invisible  bool       `json:"invisible,omitempty"`
	Geometry   Geometry   `json:"geometry"`

	// Text and MText
	Text     string  `json:"text,omitempty"`
	Height   float64 `json:"height,omitempty"`
	StyleRef string  `json:"style_ref,omitempty"`

	// Dimension
	DimStyle      string  `json:"dim_style,omitempty"`
	DimType       int     `json:"dim_type,omitempty"`
	Measurement   float64 `json:"measurement,omitempty"`
	TextOverride  string  `json:"text_override,omitempty"`
	DimPost       string  `json:"dim_post,omitempty"`
	TextMidpoint  *Point  `json:"text_midpoint,omitempty"`
	ArrowBlock    string  `json:"arrow_block,omitempty"`
	ArrowSize     float64 `json:"arrow_size,omitempty"`
	DimTextHeight float64 `json:"dim_text_height,omitempty"`

	// Insert
	Block string `json:"block,omitempty"`
}

// Anchor returns the point used to locate the entity in a report.
func (e *DrawingEntity) Anchor() *Point {
	g := e.Geometry
	switch {
	case g.Center != nil:
		return g.Center
	case g.Insert != nil:
		return g.Insert
	case g.Start != nil:
		return g.Start
	case len(g.Points) > 0:
		p := g.Points[0]
		return &p
	case e.TextMidpoint != nil:
		return e.TextMidpoint
	}
	return nil
}

// LayerDef is an entry of the LAYER table.
type LayerDef struct {
	Name       string `json:"name"`
	Color      int    `json:"color"`
	Linetype   string `json:"linetype"`
	Lineweight int    `json:"lineweight"`
	Off        bool   `json:"off,omitempty"`
	Frozen     bool   `json:"frozen,omitempty"`
	Locked     bool   `json:"locked,omitempty"`
}

// TextStyle is an entry of the STYLE table.
type TextStyle struct {
	Name     string  `json:"name"`
	FontFile string  `json:"font_file"`
	BigFont  string  `json:"big_font,omitempty"`
	Height   float64 `json:"height"`
}

// DimStyle is an entry of the DIMSTYLE table.
type DimStyle struct {
	Name       string  `json:"name"`
	ArrowBlock string  `json:"arrow_block,omitempty"`
	ArrowSize  float64 `json:"arrow_size"`
	TextHeight float64 `json:"text_height"`
	PostText   string  `json:"post_text,omitempty"`
}

// Diagnostic records a non-fatal problem found while parsing.
type Diagnostic struct {
	Line    int    `json:"line"`
	Entity  string `json:"entity,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Message string `json:"message"`
}

// DrawingModel is the fully parsed document: tables plus ordered entities.
type DrawingModel struct {
	Version     string                `json:"version"`
	Codepage    string                `json:"codepage,omitempty"`
	Units       string                `json:"units"`
	UnitScale   float64               `json:"unit_scale"`
	Extents     [2]Point              `json:"extents"`
	Header      map[string]string     `json:"header,omitempty"`
	Layers      map[string]*LayerDef  `json:"layers"`
	LayerOrder  []string              `json:"layer_order"`
	TextStyles  map[string]*TextStyle `json:"text_styles"`
	DimStyles   map[string]*DimStyle  `json:"dim_styles"`
	Linetypes   []string              `json:"linetypes"`
	Blocks      []string              `json:"blocks"`
	Entities    []*DrawingEntity      `json:"entities"`
	Diagnostics []Diagnostic          `json:"diagnostics,omitempty"`
}

// NewDrawingModel returns an empty model with initialized tables.
func NewDrawingModel() *DrawingModel {
	return &DrawingModel{
		Units:      "mm",
		UnitScale:  1,
		Header:     make(map[string]string),
		Layers:     make(map[string]*LayerDef),
		TextStyles: make(map[string]*TextStyle),
		DimStyles:  make(map[string]*DimStyle),
	}
}

// LayerNames returns the layer table names in sorted order.
func (m *DrawingModel) LayerNames() []string {
	names := make([]string, 0, len(m.Layers))
	for name := range m.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddLayer registers a layer definition, keeping table order.
// A repeated name replaces the earlier definition in place.
func (m *DrawingModel) AddLayer(l *LayerDef) {
	if _, ok := m.Layers[l.Name]; !ok {
		m.LayerOrder = append(m.LayerOrder, l.Name)
	}
	m.Layers[l.Name] = l
}

// Layer looks up a layer by name.
func (m *DrawingModel) Layer(name string) (*LayerDef, bool) {
	l, ok := m.Layers[name]
	return l, ok
}

// EntitiesOfKind returns entities matching any of the given kinds, in file order.
func (m *DrawingModel) EntitiesOfKind(kinds ...EntityKind) []*DrawingEntity {
	var out []*DrawingEntity
	for _, e := range m.Entities {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// EffectiveLineweight resolves ByLayer and default lineweights against the
// layer table and $LWDEFAULT. Returns the value in 1/100 mm and false when
// it cannot be resolved (ByBlock, or an undefined layer).
func (m *DrawingModel) EffectiveLineweight(e *DrawingEntity) (int, bool) {
	lw := e.Lineweight
	if lw == LineweightByLayer {
		l, ok := m.Layers[e.Layer]
		if !ok {
			return 0, false
		}
		lw = l.Lineweight
	}
	if lw == LineweightDefault {
		return m.DefaultLineweight(), true
	}
	if lw < 0 {
		return 0, false
	}
	return lw, true
}

// DefaultLineweight returns $LWDEFAULT, or 25 (0.25 mm) when unset.
func (m *DrawingModel) DefaultLineweight() int {
	if v, err := strconv.Atoi(m.Header["$LWDEFAULT"]); err == nil && v >= 0 {
		return v
	}
	return 25
}
