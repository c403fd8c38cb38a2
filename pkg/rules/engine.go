package rules

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/models"
)

// violationNamespace seeds deterministic violation ids.
var violationNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ekaya-cadcheck.violation"))

// Engine runs every rule registered for a standard and returns an ordered,
// identified violation list.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEngine creates an engine over a registry.
func NewEngine(registry *Registry, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.Named("rules"),
	}
}

// Registry exposes the engine's rule registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate runs the rules concurrently. The result depends only on the
// model and the rule set: ordering and ids are reproducible.
func (e *Engine) Evaluate(ctx context.Context, m *models.DrawingModel, standard string) ([]models.Violation, error) {
	rules, ok := e.registry.Rules(standard)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownStd, standard)
	}

	results := make([][]models.Violation, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rule := range rules {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%w: rule %s panicked: %v", apperrors.ErrInternal, rule.Code(), rec)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = rule.Evaluate(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	all := make([]models.Violation, 0, total)
	for _, r := range results {
		all = append(all, r...)
	}

	Sort(all)
	AssignIDs(all, standard)

	e.logger.Debug("Evaluated drawing",
		zap.String("standard", standard),
		zap.Int("rules", len(rules)),
		zap.Int("entities", len(m.Entities)),
		zap.Int("violations", len(all)))
	return all, nil
}

// Sort orders violations by severity, type, entity handle, rule code,
// description and layer.
func Sort(vs []models.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if ra, rb := a.Type.Rank(), b.Type.Rank(); ra != rb {
			return ra < rb
		}
		if c := compareHandles(a.EntityHandle, b.EntityHandle); c != 0 {
			return c < 0
		}
		if a.RuleCode != b.RuleCode {
			return a.RuleCode < b.RuleCode
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.Layer < b.Layer
	})
}

// compareHandles orders hexadecimal handles numerically; empty sorts first.
func compareHandles(a, b string) int {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// AssignIDs derives each id from the violation's position and content.
func AssignIDs(vs []models.Violation, standard string) {
	for i := range vs {
		v := &vs[i]
		name := fmt.Sprintf("%s|%d|%s|%s|%s|%s", standard, i, v.RuleCode, v.EntityHandle, v.Layer, v.Description)
		v.ID = uuid.NewSHA1(violationNamespace, []byte(name)).String()
	}
}
