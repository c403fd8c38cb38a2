// Package dxf decodes DXF drawings (ASCII and binary) into a DrawingModel.
package dxf

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// MinVersion is the oldest $ACADVER accepted (R12).
const MinVersion = 1009

// Parse reads a DXF document. Structural damage (bad group codes,
// truncation, missing sections) fails with ErrMalformedDXF. Individual
// entities that cannot be decoded are dropped and recorded in the model's
// diagnostics.
func Parse(r io.Reader) (*models.DrawingModel, error) {
	tags, err := newTagReader(r)
	if err != nil {
		return nil, err
	}
	p := &parser{
		tags:         tags,
		model:        models.NewDrawingModel(),
		insUnits:     -1,
		measurement:  -1,
		blockRecords: make(map[string]string),
		arrowHandles: make(map[string]string),
		skipped:      make(map[string]*skipCount),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.model, nil
}

type skipCount struct {
	n    int
	line int
}

type parser struct {
	tags  tagReader
	back  *Tag
	model *models.DrawingModel

	enc         encoding.Encoding
	insUnits    int
	measurement int

	// BLOCK_RECORD handle -> name, to resolve DIMSTYLE arrow handles.
	blockRecords map[string]string
	arrowHandles map[string]string

	poly    *models.DrawingEntity
	skipped map[string]*skipCount
}

func (p *parser) next() (Tag, error) {
	if p.back != nil {
		t := *p.back
		p.back = nil
		return t, nil
	}
	return p.tags.Next()
}

func (p *parser) unread(t Tag) {
	p.back = &t
}

func (p *parser) run() error {
	sections := 0
loop:
	for {
		t, err := p.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch {
		case t.Code == 999:
			continue
		case t.is(0, "EOF"):
			break loop
		case t.is(0, "SECTION"):
			name, err := p.next()
			if err != nil {
				return p.eof(err, "SECTION")
			}
			if name.Code != 2 {
				return fmt.Errorf("%w: SECTION without a name at line %d", apperrors.ErrMalformedDXF, t.Line)
			}
			sections++
			if err := p.section(name.Value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected group %d %q outside any section at line %d",
				apperrors.ErrMalformedDXF, t.Code, truncate(t.Value, 32), t.Line)
		}
	}

	if sections == 0 {
		return fmt.Errorf("%w: no sections found", apperrors.ErrMalformedDXF)
	}
	return p.finish()
}

func (p *parser) section(name string) error {
	switch name {
	case "HEADER":
		return p.header()
	case "TABLES":
		return p.records(name, p.tableRecord)
	case "BLOCKS":
		return p.records(name, p.blockRecord)
	case "ENTITIES":
		err := p.records(name, p.entityRecord)
		p.poly = nil
		return err
	default:
		// CLASSES, OBJECTS, THUMBNAILIMAGE and ACDSDATA carry nothing we check.
		return p.records(name, func(record) {})
	}
}

func (p *parser) eof(err error, where string) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected end of file in %s", apperrors.ErrMalformedDXF, where)
	}
	return err
}

// ============================================================================
// HEADER
// ============================================================================

func (p *parser) header() error {
	vars := make(map[string][]Tag)
	current := ""
	for {
		t, err := p.next()
		if err != nil {
			return p.eof(err, "HEADER section")
		}
		if t.is(0, "ENDSEC") {
			break
		}
		if t.Code == 9 {
			current = t.Value
			continue
		}
		if current != "" {
			vars[current] = append(vars[current], t)
		}
	}

	for name, tags := range vars {
		values := make([]string, len(tags))
		for i, t := range tags {
			values[i] = t.Value
		}
		p.model.Header[name] = strings.Join(values, ",")
	}

	if v := firstValue(vars["$ACADVER"], 1); v != "" {
		p.model.Version = v
		if err := checkVersion(v); err != nil {
			return err
		}
	}
	if cp := firstValue(vars["$DWGCODEPAGE"], 3); cp != "" {
		p.model.Codepage = cp
		p.enc = codepages[strings.ToUpper(cp)]
	}
	if v, err := strconv.Atoi(firstValue(vars["$INSUNITS"], 70)); err == nil {
		p.insUnits = v
	}
	if v, err := strconv.Atoi(firstValue(vars["$MEASUREMENT"], 70)); err == nil {
		p.measurement = v
	}
	p.model.Extents[0] = headerPoint(vars["$EXTMIN"])
	p.model.Extents[1] = headerPoint(vars["$EXTMAX"])
	return nil
}

func firstValue(tags []Tag, code int) string {
	for _, t := range tags {
		if t.Code == code {
			return t.Value
		}
	}
	return ""
}

func headerPoint(tags []Tag) models.Point {
	var pt models.Point
	for _, t := range tags {
		v, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			continue
		}
		switch t.Code {
		case 10:
			pt.X = v
		case 20:
			pt.Y = v
		}
	}
	return pt
}

func checkVersion(v string) error {
	if len(v) != 6 || !strings.HasPrefix(v, "AC") {
		return fmt.Errorf("%w: unrecognized $ACADVER %q", apperrors.ErrUnsupportedVersion, truncate(v, 16))
	}
	n, err := strconv.Atoi(v[2:])
	if err != nil {
		return fmt.Errorf("%w: unrecognized $ACADVER %q", apperrors.ErrUnsupportedVersion, v)
	}
	if n < MinVersion {
		return fmt.Errorf("%w: %s is older than AC%d (R12)", apperrors.ErrUnsupportedVersion, v, MinVersion)
	}
	return nil
}

// ============================================================================
// Records (TABLES, BLOCKS, ENTITIES)
// ============================================================================

// record is a group 0 tag and the tags that follow it up to the next group 0.
type record struct {
	Type string
	Line int
	Tags []Tag
}

func (r record) str(code int) string {
	for _, t := range r.Tags {
		if t.Code == code {
			return t.Value
		}
	}
	return ""
}

func (p *parser) records(section string, handle func(record)) error {
	where := section + " section"
	for {
		head, err := p.next()
		if err != nil {
			return p.eof(err, where)
		}
		if head.Code != 0 {
			// Stray tags between records; nothing can own them.
			continue
		}
		if head.Value == "ENDSEC" {
			return nil
		}
		if head.Value == "EOF" {
			return fmt.Errorf("%w: %s not terminated by ENDSEC", apperrors.ErrMalformedDXF, section)
		}

		rec := record{Type: head.Value, Line: head.Line}
		for {
			t, err := p.next()
			if err != nil {
				return p.eof(err, where)
			}
			if t.Code == 0 {
				p.unread(t)
				break
			}
			rec.Tags = append(rec.Tags, t)
		}
		handle(rec)
	}
}

func (p *parser) decode(s string) string {
	return decodeString(s, p.enc)
}

func (p *parser) diag(rec record, handle, msg string) {
	p.model.Diagnostics = append(p.model.Diagnostics, models.Diagnostic{
		Line:    rec.Line,
		Entity:  rec.Type,
		Handle:  handle,
		Message: msg,
	})
}

func (p *parser) skip(rec record) {
	s, ok := p.skipped[rec.Type]
	if !ok {
		s = &skipCount{line: rec.Line}
		p.skipped[rec.Type] = s
	}
	s.n++
}

// ============================================================================
// TABLES
// ============================================================================

func (p *parser) tableRecord(rec record) {
	f := fields{rec: rec}
	switch rec.Type {
	case "LAYER":
		l := &models.LayerDef{
			Color:      7,
			Linetype:   "Continuous",
			Lineweight: models.LineweightDefault,
		}
		for _, t := range rec.Tags {
			switch t.Code {
			case 2:
				l.Name = p.decode(t.Value)
			case 6:
				l.Linetype = p.decode(t.Value)
			case 62:
				l.Color = f.int(t)
				if l.Color < 0 {
					l.Off = true
					l.Color = -l.Color
				}
			case 70:
				flags := f.int(t)
				l.Frozen = flags&1 != 0
				l.Locked = flags&4 != 0
			case 370:
				l.Lineweight = f.int(t)
			}
		}
		if f.err != nil || l.Name == "" {
			p.diag(rec, "", fmt.Sprintf("skipped layer table entry: %s", f.reason("missing name")))
			return
		}
		p.model.AddLayer(l)

	case "STYLE":
		st := &models.TextStyle{}
		for _, t := range rec.Tags {
			switch t.Code {
			case 2:
				st.Name = p.decode(t.Value)
			case 3:
				st.FontFile = p.decode(t.Value)
			case 4:
				st.BigFont = p.decode(t.Value)
			case 40:
				st.Height = f.float(t)
			}
		}
		// Shape file entries have no name.
		if f.err != nil || st.Name == "" {
			return
		}
		p.model.TextStyles[st.Name] = st

	case "DIMSTYLE":
		ds := &models.DimStyle{ArrowSize: 2.5, TextHeight: 2.5}
		arrowHandle := ""
		for _, t := range rec.Tags {
			switch t.Code {
			case 2:
				ds.Name = p.decode(t.Value)
			case 3:
				ds.PostText = p.decode(t.Value)
			case 5:
				// DIMBLK name (R12). Later versions put the handle in 105 and use 342.
				ds.ArrowBlock = p.decode(t.Value)
			case 41:
				ds.ArrowSize = f.float(t)
			case 140:
				ds.TextHeight = f.float(t)
			case 342:
				arrowHandle = t.Value
			}
		}
		if f.err != nil || ds.Name == "" {
			p.diag(rec, "", fmt.Sprintf("skipped dimension style: %s", f.reason("missing name")))
			return
		}
		if arrowHandle != "" {
			p.arrowHandles[ds.Name] = arrowHandle
		}
		p.model.DimStyles[ds.Name] = ds

	case "LTYPE":
		if name := rec.str(2); name != "" {
			p.model.Linetypes = append(p.model.Linetypes, p.decode(name))
		}

	case "BLOCK_RECORD":
		if h, name := rec.str(5), rec.str(2); h != "" && name != "" {
			p.blockRecords[h] = p.decode(name)
		}
	}
}

// ============================================================================
// BLOCKS
// ============================================================================

func (p *parser) blockRecord(rec record) {
	if rec.Type != "BLOCK" {
		return
	}
	name := p.decode(rec.str(2))
	if name == "" || strings.HasPrefix(name, "*") {
		return
	}
	p.model.Blocks = append(p.model.Blocks, name)
}

// ============================================================================
// Finish
// ============================================================================

func (p *parser) finish() error {
	for name, h := range p.arrowHandles {
		ds := p.model.DimStyles[name]
		if ds.ArrowBlock == "" {
			ds.ArrowBlock = p.blockRecords[h]
		}
	}

	u, note := resolveUnits(p.insUnits, p.measurement)
	if note != "" {
		p.model.Diagnostics = append(p.model.Diagnostics, models.Diagnostic{Message: note})
	}
	p.model.Units = u.name
	p.model.UnitScale = u.mm
	scaleModel(p.model, u.mm)

	kinds := make([]string, 0, len(p.skipped))
	for k := range p.skipped {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		s := p.skipped[k]
		p.model.Diagnostics = append(p.model.Diagnostics, models.Diagnostic{
			Line:    s.line,
			Entity:  k,
			Message: fmt.Sprintf("skipped %d unsupported %s entit%s", s.n, k, plural(s.n, "y", "ies")),
		})
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// fields converts tag values, remembering the first conversion error.
type fields struct {
	rec record
	err error
}

func (f *fields) float(t Tag) float64 {
	v, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		f.fail(t)
		return 0
	}
	return v
}

func (f *fields) int(t Tag) int {
	v, err := strconv.Atoi(t.Value)
	if err == nil {
		return v
	}
	// Some writers emit integral groups as "1.0".
	fv, ferr := strconv.ParseFloat(t.Value, 64)
	if ferr == nil && fv == float64(int(fv)) {
		return int(fv)
	}
	f.fail(t)
	return 0
}

func (f *fields) fail(t Tag) {
	if f.err == nil {
		f.err = fmt.Errorf("invalid value %q for group %d at line %d", truncate(t.Value, 32), t.Code, t.Line)
	}
}

func (f *fields) reason(fallback string) string {
	if f.err != nil {
		return f.err.Error()
	}
	return fallback
}
