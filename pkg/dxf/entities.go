package dxf

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// Dimension variable codes used in ACAD DSTYLE override XDATA.
const (
	dimvarPost     = 3
	dimvarArrowSz  = 41
	dimvarTextHt   = 140
	dimvarArrowBlk = 342
)

// point collects the X/Y groups of one coordinate.
type point struct {
	x, y float64
	set  bool
}

func (pt point) ptr() *models.Point {
	if !pt.set {
		return nil
	}
	return &models.Point{X: pt.x, Y: pt.y}
}

func (p *parser) entityRecord(rec record) {
	kind := models.EntityKind(rec.Type)
	switch rec.Type {
	case "VERTEX":
		p.vertex(rec)
		return
	case "SEQEND":
		p.poly = nil
		return
	}
	p.poly = nil

	switch kind {
	case models.EntityLine, models.EntityCircle, models.EntityArc,
		models.EntityText, models.EntityMText, models.EntityDimension,
		models.EntityInsert, models.EntityPolyline, models.EntityLWPolyline:
	default:
		p.skip(rec)
		return
	}

	e, err := p.entity(kind, rec)
	if err != nil {
		p.diag(rec, e.Handle, fmt.Sprintf("dropped %s entity: %v", rec.Type, err))
		return
	}
	p.model.Entities = append(p.model.Entities, e)
	if kind == models.EntityPolyline {
		p.poly = e
	}
}

// entity materializes one record. On error the returned entity still
// carries whatever handle was read so the diagnostic can name it.
func (p *parser) entity(kind models.EntityKind, rec record) (*models.DrawingEntity, error) {
	e := &models.DrawingEntity{
		Kind:       kind,
		Layer:      "0",
		Color:      models.ColorByLayer,
		Linetype:   "ByLayer",
		Lineweight: models.LineweightByLayer,
	}
	f := fields{rec: rec}

	var p10, p11 point
	var mtextChunks []string
	xdataAt := -1

	for i, t := range rec.Tags {
		if t.Code >= 1000 {
			if xdataAt < 0 && t.Code == 1001 {
				xdataAt = i
			}
			continue
		}
		switch t.Code {
		case 5:
			e.Handle = t.Value
		case 8:
			e.Layer = p.decode(t.Value)
		case 6:
			e.Linetype = p.decode(t.Value)
		case 62:
			e.Color = f.int(t)
		case 370:
			e.Lineweight = f.int(t)
		case 60:
			e.Invisible = f.int(t) == 1
		case 10:
			if kind == models.EntityLWPolyline {
				e.Geometry.Points = append(e.Geometry.Points, models.Point{X: f.float(t)})
				continue
			}
			p10.x, p10.set = f.float(t), true
		case 20:
			if kind == models.EntityLWPolyline {
				if n := len(e.Geometry.Points); n > 0 {
					e.Geometry.Points[n-1].Y = f.float(t)
				}
				continue
			}
			p10.y, p10.set = f.float(t), true
		case 11:
			p11.x, p11.set = f.float(t), true
		case 21:
			p11.y, p11.set = f.float(t), true
		case 40:
			switch kind {
			case models.EntityCircle, models.EntityArc:
				e.Geometry.Radius = f.float(t)
			case models.EntityText, models.EntityMText:
				e.Height = f.float(t)
			}
		case 42:
			if kind == models.EntityDimension {
				e.Measurement = f.float(t)
			}
		case 50:
			if kind == models.EntityArc {
				e.Geometry.StartAngle = f.float(t)
			}
		case 51:
			if kind == models.EntityArc {
				e.Geometry.EndAngle = f.float(t)
			}
		case 70:
			flags := f.int(t)
			switch kind {
			case models.EntityDimension:
				e.DimType = flags & 0x07
			case models.EntityPolyline, models.EntityLWPolyline:
				e.Geometry.Closed = flags&1 != 0
			}
		case 1:
			if kind == models.EntityDimension {
				e.TextOverride = p.decode(t.Value)
			} else {
				mtextChunks = append(mtextChunks, t.Value)
			}
		case 2:
			e.Block = p.decode(t.Value)
		case 3:
			switch kind {
			case models.EntityMText:
				// Leading 250-character chunks precede the final group 1.
				mtextChunks = append(mtextChunks, t.Value)
			case models.EntityDimension:
				e.DimStyle = p.decode(t.Value)
			}
		case 7:
			e.StyleRef = p.decode(t.Value)
		}
	}

	if f.err != nil {
		return e, f.err
	}

	switch kind {
	case models.EntityLine:
		if !p10.set || !p11.set {
			return e, fmt.Errorf("missing endpoints")
		}
		e.Geometry.Start = p10.ptr()
		e.Geometry.End = p11.ptr()
	case models.EntityCircle, models.EntityArc:
		if !p10.set {
			return e, fmt.Errorf("missing center")
		}
		if e.Geometry.Radius <= 0 {
			return e, fmt.Errorf("non-positive radius %g", e.Geometry.Radius)
		}
		e.Geometry.Center = p10.ptr()
	case models.EntityText, models.EntityMText:
		e.Geometry.Insert = p10.ptr()
		raw := p.decode(strings.Join(mtextChunks, ""))
		if kind == models.EntityMText {
			e.Text = plainMText(raw)
		} else {
			e.Text = plainText(raw)
		}
		if e.StyleRef == "" {
			e.StyleRef = "Standard"
		}
	case models.EntityDimension:
		e.Geometry.Insert = p10.ptr()
		e.TextMidpoint = p11.ptr()
		if e.DimStyle == "" {
			e.DimStyle = "Standard"
		}
		p.dimensionOverrides(e, rec, xdataAt)
	case models.EntityInsert:
		e.Geometry.Insert = p10.ptr()
	}
	return e, nil
}

// dimensionOverrides applies per-entity DIMSTYLE overrides carried in
// ACAD application XDATA: 1000 DSTYLE, 1002 {, (1070 code, value)*, 1002 }.
func (p *parser) dimensionOverrides(e *models.DrawingEntity, rec record, from int) {
	if from < 0 {
		return
	}
	tags := rec.Tags[from:]
	inACAD, inDStyle := false, false
	for i := 0; i < len(tags); i++ {
		t := tags[i]
		switch {
		case t.Code == 1001:
			inACAD = t.Value == "ACAD"
			inDStyle = false
		case !inACAD:
		case t.Code == 1000 && t.Value == "DSTYLE":
			inDStyle = true
		case t.Code == 1002 && t.Value == "}":
			inDStyle = false
		case inDStyle && t.Code == 1070 && i+1 < len(tags):
			f := fields{rec: rec}
			code := f.int(t)
			val := tags[i+1]
			i++
			switch code {
			case dimvarArrowSz:
				if v := f.float(val); f.err == nil {
					e.ArrowSize = v
				}
			case dimvarTextHt:
				if v := f.float(val); f.err == nil {
					e.DimTextHeight = v
				}
			case dimvarPost:
				e.DimPost = p.decode(val.Value)
			case dimvarArrowBlk:
				e.ArrowBlock = p.blockRecords[val.Value]
			}
			if f.err != nil {
				p.diag(rec, e.Handle, fmt.Sprintf("ignored dimension override: %v", f.err))
			}
		}
	}
}

// vertex appends a POLYLINE vertex to the open polyline.
func (p *parser) vertex(rec record) {
	if p.poly == nil {
		p.diag(rec, rec.str(5), "VERTEX outside of a POLYLINE")
		return
	}
	f := fields{rec: rec}
	var pt point
	for _, t := range rec.Tags {
		switch t.Code {
		case 10:
			pt.x, pt.set = f.float(t), true
		case 20:
			pt.y = f.float(t)
		}
	}
	if f.err != nil || !pt.set {
		p.diag(rec, rec.str(5), fmt.Sprintf("dropped polyline vertex: %s", f.reason("missing location")))
		return
	}
	p.poly.Geometry.Points = append(p.poly.Geometry.Points, models.Point{X: pt.x, Y: pt.y})
}
