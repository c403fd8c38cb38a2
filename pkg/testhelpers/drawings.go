package testhelpers

import (
	"strconv"
	"strings"
)

// Group is a raw DXF group code / value pair.
type Group struct {
	Code  int
	Value string
}

// G is shorthand for building a Group.
func G(code int, value any) Group {
	switch v := value.(type) {
	case string:
		return Group{Code: code, Value: v}
	case int:
		return Group{Code: code, Value: strconv.Itoa(v)}
	case float64:
		return Group{Code: code, Value: strconv.FormatFloat(v, 'f', -1, 64)}
	default:
		panic("testhelpers.G: unsupported value type")
	}
}

// DXF builds small ASCII DXF documents for tests.
type DXF struct {
	version  string
	insUnits int
	header   []Group
	layers   [][]Group
	styles   [][]Group
	dims     [][]Group
	blocks   []string
	entities [][]Group
	handle   int
}

// NewDXF starts an AutoCAD 2013 document in millimetres with layer "0".
func NewDXF() *DXF {
	d := &DXF{version: "AC1027", insUnits: 4, handle: 0x100}
	d.Layer("0", 7, -3)
	return d
}

// Version sets $ACADVER. An empty version omits the variable.
func (d *DXF) Version(v string) *DXF {
	d.version = v
	return d
}

// Units sets $INSUNITS. A negative value omits the variable.
func (d *DXF) Units(insUnits int) *DXF {
	d.insUnits = insUnits
	return d
}

// HeaderVar adds a header variable.
func (d *DXF) HeaderVar(name string, groups ...Group) *DXF {
	d.header = append(d.header, G(9, name))
	d.header = append(d.header, groups...)
	return d
}

// Layer adds a LAYER table entry.
func (d *DXF) Layer(name string, color, lineweight int) *DXF {
	d.layers = append(d.layers, []Group{
		G(0, "LAYER"), G(2, name), G(70, 0), G(62, color), G(6, "CONTINUOUS"), G(370, lineweight),
	})
	return d
}

// Style adds a STYLE table entry.
func (d *DXF) Style(name, font string) *DXF {
	d.styles = append(d.styles, []Group{
		G(0, "STYLE"), G(2, name), G(70, 0), G(40, 0.0), G(41, 1.0), G(3, font),
	})
	return d
}

// DimStyle adds a DIMSTYLE table entry.
func (d *DXF) DimStyle(name, arrowBlock string, arrowSize, textHeight float64, post string) *DXF {
	groups := []Group{G(0, "DIMSTYLE"), G(2, name), G(70, 0)}
	if post != "" {
		groups = append(groups, G(3, post))
	}
	if arrowBlock != "" {
		groups = append(groups, G(5, arrowBlock))
	}
	groups = append(groups, G(41, arrowSize), G(140, textHeight))
	d.dims = append(d.dims, groups)
	return d
}

// Block adds a block definition.
func (d *DXF) Block(name string) *DXF {
	d.blocks = append(d.blocks, name)
	return d
}

func (d *DXF) nextHandle() string {
	d.handle++
	return strings.ToUpper(strconv.FormatInt(int64(d.handle), 16))
}

// Entity appends an entity with an auto-assigned handle and returns it.
func (d *DXF) Entity(kind, layer string, groups ...Group) string {
	h := d.nextHandle()
	rec := []Group{G(0, kind), G(5, h), G(8, layer)}
	rec = append(rec, groups...)
	d.entities = append(d.entities, rec)
	return h
}

// Raw appends groups verbatim to the ENTITIES section.
func (d *DXF) Raw(groups ...Group) *DXF {
	d.entities = append(d.entities, groups)
	return d
}

// Line adds a LINE and returns its handle.
func (d *DXF) Line(layer string, x1, y1, x2, y2 float64, extra ...Group) string {
	return d.Entity("LINE", layer, append([]Group{
		G(10, x1), G(20, y1), G(30, 0.0), G(11, x2), G(21, y2), G(31, 0.0),
	}, extra...)...)
}

// Circle adds a CIRCLE and returns its handle.
func (d *DXF) Circle(layer string, x, y, r float64, extra ...Group) string {
	return d.Entity("CIRCLE", layer, append([]Group{
		G(10, x), G(20, y), G(30, 0.0), G(40, r),
	}, extra...)...)
}

// Arc adds an ARC and returns its handle.
func (d *DXF) Arc(layer string, x, y, r, start, end float64, extra ...Group) string {
	return d.Entity("ARC", layer, append([]Group{
		G(10, x), G(20, y), G(30, 0.0), G(40, r), G(50, start), G(51, end),
	}, extra...)...)
}

// Text adds a single-line TEXT and returns its handle.
func (d *DXF) Text(layer, style, text string, height float64, extra ...Group) string {
	return d.Entity("TEXT", layer, append([]Group{
		G(10, 0.0), G(20, 0.0), G(30, 0.0), G(40, height), G(1, text), G(7, style),
	}, extra...)...)
}

// MText adds an MTEXT and returns its handle.
func (d *DXF) MText(layer, style, text string, height float64, extra ...Group) string {
	return d.Entity("MTEXT", layer, append([]Group{
		G(10, 0.0), G(20, 0.0), G(30, 0.0), G(40, height), G(1, text), G(7, style),
	}, extra...)...)
}

// Dimension adds a linear DIMENSION and returns its handle.
func (d *DXF) Dimension(layer, style, override string, measurement float64, extra ...Group) string {
	groups := []Group{
		G(2, "*D1"), G(10, 0.0), G(20, 0.0), G(30, 0.0), G(11, 5.0), G(21, 5.0), G(31, 0.0),
		G(70, 32), G(42, measurement), G(3, style),
	}
	if override != "" {
		groups = append(groups, G(1, override))
	}
	return d.Entity("DIMENSION", layer, append(groups, extra...)...)
}

// String renders the document.
func (d *DXF) String() string {
	var b strings.Builder
	write := func(groups ...Group) {
		for _, g := range groups {
			b.WriteString(strconv.Itoa(g.Code))
			b.WriteString("\n")
			b.WriteString(g.Value)
			b.WriteString("\n")
		}
	}

	write(G(0, "SECTION"), G(2, "HEADER"))
	if d.version != "" {
		write(G(9, "$ACADVER"), G(1, d.version))
	}
	if d.insUnits >= 0 {
		write(G(9, "$INSUNITS"), G(70, d.insUnits))
	}
	write(d.header...)
	write(G(0, "ENDSEC"))

	write(G(0, "SECTION"), G(2, "TABLES"))
	table := func(name string, entries [][]Group) {
		write(G(0, "TABLE"), G(2, name), G(70, len(entries)))
		for _, e := range entries {
			write(e...)
		}
		write(G(0, "ENDTAB"))
	}
	table("LAYER", d.layers)
	table("STYLE", d.styles)
	table("DIMSTYLE", d.dims)
	write(G(0, "ENDSEC"))

	write(G(0, "SECTION"), G(2, "BLOCKS"))
	for _, name := range d.blocks {
		write(G(0, "BLOCK"), G(8, "0"), G(2, name), G(70, 0), G(10, 0.0), G(20, 0.0), G(30, 0.0), G(3, name))
		write(G(0, "ENDBLK"), G(8, "0"))
	}
	write(G(0, "ENDSEC"))

	write(G(0, "SECTION"), G(2, "ENTITIES"))
	for _, e := range d.entities {
		write(e...)
	}
	write(G(0, "ENDSEC"), G(0, "EOF"))
	return b.String()
}

// Bytes renders the document.
func (d *DXF) Bytes() []byte {
	return []byte(d.String())
}
