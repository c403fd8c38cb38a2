package rules

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dxf"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/testhelpers"
)

func newTestEngine() *Engine {
	return NewEngine(NewDefaultRegistry(), zap.NewNop())
}

func TestEngine_LayerAndConcentricCircles(t *testing.T) {
	d := testhelpers.NewDXF().Layer("Layer1", 7, models.LineweightDefault)
	first := d.Circle("Layer1", 0, 0, 5)
	d.Circle("Layer1", 0.2, 0, 5)

	m, err := dxf.Parse(bytes.NewReader(d.Bytes()))
	require.NoError(t, err)

	vs, err := newTestEngine().Evaluate(context.Background(), m, DefaultStandard)
	require.NoError(t, err)
	require.Len(t, vs, 2)

	assert.Equal(t, models.ViolationTypeLayer, vs[0].Type)
	assert.Equal(t, models.SeverityCritical, vs[0].Severity)
	assert.Equal(t, "Layer1", vs[0].Layer)

	assert.Equal(t, models.ViolationTypeGeometry, vs[1].Type)
	assert.Equal(t, models.SeverityWarning, vs[1].Severity)
	assert.Equal(t, first, vs[1].EntityHandle)
	assert.Equal(t, 0.2, vs[1].EntityDetails["distance_mm"])

	assert.NotEmpty(t, vs[0].ID)
	assert.NotEqual(t, vs[0].ID, vs[1].ID)
}

func TestEngine_CleanDrawing(t *testing.T) {
	d := testhelpers.NewDXF().
		Layer("01粗实线", 7, 50).
		Layer("08尺寸线", 3, 25).
		Layer("11文字", 7, 25).
		Style("GB", "gbenor.shx").
		DimStyle("ISO-25", "", 2.5, 3.5, "mm")
	d.Line("01粗实线", 0, 0, 100, 0)
	d.Circle("01粗实线", 50, 50, 10)
	d.Text("11文字", "GB", "技术要求", 3.5)
	d.Dimension("08尺寸线", "ISO-25", "", 100)

	m, err := dxf.Parse(bytes.NewReader(d.Bytes()))
	require.NoError(t, err)

	vs, err := newTestEngine().Evaluate(context.Background(), m, "gb/t  14665-2012")
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func messyModel() *models.DrawingModel {
	m := newModel(layer("Layer1", 30), layer("01", 70))
	for _, h := range []string{"1F", "A", "2B"} {
		e := entity(m, models.EntityLine, h, "01")
		e.Color = 2
	}
	text(m, "30", "Layer1", "Standard", "", 1.5)
	circle(m, "31", "01", 0, 0, 5)
	circle(m, "32", "01", 0.5, 0, 5)
	dimension(m, "33", "Layer1", "ISO")
	entity(m, models.EntityLine, "34", "NOWHERE")
	return m
}

func TestEngine_Deterministic(t *testing.T) {
	engine := newTestEngine()
	m := messyModel()

	first, err := engine.Evaluate(context.Background(), m, DefaultStandard)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	for i := 0; i < 10; i++ {
		again, err := engine.Evaluate(context.Background(), m, DefaultStandard)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	ids := make(map[string]bool)
	for _, v := range first {
		assert.False(t, ids[v.ID], "duplicate id %s", v.ID)
		ids[v.ID] = true
	}
}

func TestEngine_Ordering(t *testing.T) {
	vs, err := newTestEngine().Evaluate(context.Background(), messyModel(), DefaultStandard)
	require.NoError(t, err)

	for i := 1; i < len(vs); i++ {
		a, b := vs[i-1], vs[i]
		require.LessOrEqual(t, a.Severity.Rank(), b.Severity.Rank(), "severity order at %d", i)
		if a.Severity == b.Severity {
			require.LessOrEqual(t, a.Type.Rank(), b.Type.Rank(), "type order at %d", i)
			if a.Type == b.Type {
				require.LessOrEqual(t, compareHandles(a.EntityHandle, b.EntityHandle), 0, "handle order at %d", i)
			}
		}
	}
}

func TestEngine_UnknownStandard(t *testing.T) {
	_, err := newTestEngine().Evaluate(context.Background(), newModel(), "ISO 128")
	require.ErrorIs(t, err, apperrors.ErrUnknownStd)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEngine_DisabledRules(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Disabled = []string{CodeLayerNaming, CodeCoincidence}
	reg := NewRegistry()
	require.NoError(t, reg.Load(rs))

	m := newModel(layer("Layer1", models.LineweightDefault))
	circle(m, "C1", "Layer1", 0, 0, 5)
	circle(m, "C2", "Layer1", 0.2, 0, 5)

	vs, err := NewEngine(reg, zap.NewNop()).Evaluate(context.Background(), m, DefaultStandard)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

type panicRule struct{}

func (panicRule) Code() string { return "PANIC" }

func (panicRule) Evaluate(*models.DrawingModel) []models.Violation { panic("boom") }

func TestEngine_RulePanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register("TEST", panicRule{})

	_, err := NewEngine(reg, zap.NewNop()).Evaluate(context.Background(), newModel(), "TEST")
	require.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Contains(t, err.Error(), "PANIC")
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine().Evaluate(ctx, newModel(), DefaultStandard)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSort(t *testing.T) {
	vs := []models.Violation{
		{Severity: models.SeverityInfo, Type: models.ViolationTypeColor, EntityHandle: "1"},
		{Severity: models.SeverityWarning, Type: models.ViolationTypeGeometry, EntityHandle: "2"},
		{Severity: models.SeverityCritical, Type: models.ViolationTypeLineWeight, EntityHandle: "1F"},
		{Severity: models.SeverityCritical, Type: models.ViolationTypeLineWeight, EntityHandle: "A"},
		{Severity: models.SeverityCritical, Type: models.ViolationTypeLayer, EntityHandle: "FF"},
		{Severity: models.SeverityCritical, Type: models.ViolationTypeLayer, EntityHandle: ""},
	}
	Sort(vs)
	assert.Equal(t, []string{"", "FF", "A", "1F", "2", "1"}, handles(vs))
}

func TestAssignIDs(t *testing.T) {
	vs := []models.Violation{
		{RuleCode: CodeColorByLayer, EntityHandle: "A"},
		{RuleCode: CodeColorByLayer, EntityHandle: "A"},
	}
	AssignIDs(vs, DefaultStandard)
	assert.NotEqual(t, vs[0].ID, vs[1].ID)

	again := []models.Violation{{RuleCode: CodeColorByLayer, EntityHandle: "A"}}
	AssignIDs(again, DefaultStandard)
	assert.Equal(t, vs[0].ID, again[0].ID)
}
