package dxf

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

type unit struct {
	name     string
	mm       float64
	imperial bool
}

var millimetres = unit{name: "mm", mm: 1}

// insUnits maps $INSUNITS codes to their size in millimetres.
var insUnits = map[int]unit{
	1:  {name: "in", mm: 25.4, imperial: true},
	2:  {name: "ft", mm: 304.8, imperial: true},
	4:  millimetres,
	5:  {name: "cm", mm: 10},
	6:  {name: "m", mm: 1000},
	7:  {name: "km", mm: 1e6},
	8:  {name: "µin", mm: 25.4e-6, imperial: true},
	9:  {name: "mil", mm: 0.0254, imperial: true},
	10: {name: "yd", mm: 914.4, imperial: true},
	14: {name: "dm", mm: 100},
}

// resolveUnits picks the drawing unit from $INSUNITS and $MEASUREMENT
// (-1 when absent). Anything ambiguous resolves to millimetres; the
// returned note explains why when that happens.
func resolveUnits(ins, measurement int) (unit, string) {
	if ins <= 0 {
		return millimetres, ""
	}
	u, ok := insUnits[ins]
	if !ok {
		return millimetres, fmt.Sprintf("unsupported $INSUNITS %d, assuming millimetres", ins)
	}
	switch {
	case measurement == 0 && !u.imperial, measurement == 1 && u.imperial:
		return millimetres, fmt.Sprintf("$INSUNITS %d (%s) conflicts with $MEASUREMENT %d, assuming millimetres", ins, u.name, measurement)
	}
	return u, ""
}

// scaleModel converts every length in the model to millimetres.
func scaleModel(m *models.DrawingModel, s float64) {
	if s == 1 {
		return
	}
	for i := range m.Extents {
		m.Extents[i].X *= s
		m.Extents[i].Y *= s
	}
	for _, st := range m.TextStyles {
		st.Height *= s
	}
	for _, ds := range m.DimStyles {
		ds.ArrowSize *= s
		ds.TextHeight *= s
	}
	for _, e := range m.Entities {
		g := &e.Geometry
		scalePoint(g.Start, s)
		scalePoint(g.End, s)
		scalePoint(g.Center, s)
		scalePoint(g.Insert, s)
		scalePoint(e.TextMidpoint, s)
		for j := range g.Points {
			g.Points[j].X *= s
			g.Points[j].Y *= s
		}
		g.Radius *= s
		e.Height *= s
		e.Measurement *= s
		e.ArrowSize *= s
		e.DimTextHeight *= s
	}
}

func scalePoint(p *models.Point, s float64) {
	if p == nil {
		return
	}
	p.X *= s
	p.Y *= s
}
