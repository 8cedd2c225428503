package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/common"
	"github.com/bobmcallan/logsentry/internal/interfaces"
	"github.com/bobmcallan/logsentry/internal/models"
)

// compiledRule caches a rule's parsed condition and any selection names
// its condition references but the rule never defines.
type compiledRule struct {
	node         conditionNode
	err          error
	unknownAtoms []string
}

// Evaluator runs every enabled, evaluable rule from every tenant-activated
// pack against an ingested batch of logs, persisting and returning the
// DetectionEvents it raises.
type Evaluator struct {
	catalog     *Catalog
	activations interfaces.ActivationStore
	detections  interfaces.DetectionStore
	logger      *common.Logger

	mu       sync.Mutex
	compiled map[string]compiledRule
	warned   sync.Map // tenant|ruleID -> struct{}, logged-once guard
}

// NewEvaluator builds an Evaluator over the given catalog and stores.
func NewEvaluator(catalog *Catalog, activations interfaces.ActivationStore, detections interfaces.DetectionStore, logger *common.Logger) *Evaluator {
	return &Evaluator{
		catalog:     catalog,
		activations: activations,
		detections:  detections,
		logger:      logger,
		compiled:    make(map[string]compiledRule),
	}
}

// Evaluate runs the algorithm of spec.md §4.I steps 1-6 against logs,
// which must all belong to (tenant, project). Rules are evaluated in pack
// order, then declared order within a pack; events are emitted (and
// returned) in that same order, with each rule's matches preserving log
// input order.
func (e *Evaluator) Evaluate(ctx context.Context, tenant, project string, logs []models.LogRecord) ([]models.DetectionEvent, error) {
	activations, err := e.activations.ListForTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list activations for tenant %s: %w", tenant, err)
	}
	enabled := make(map[string]models.PackActivation, len(activations))
	for _, a := range activations {
		if a.Enabled {
			enabled[a.PackID] = a
		}
	}

	var events []models.DetectionEvent
	for _, pack := range e.catalog.ListPacks() {
		activation, ok := enabled[pack.ID]
		if !ok {
			continue
		}
		for _, rule := range pack.Rules {
			if !rule.Status.Evaluable() {
				continue
			}
			matches, err := e.evaluateRule(ctx, tenant, project, rule, activation, logs)
			if err != nil {
				continue
			}
			events = append(events, matches...)
		}
	}
	return events, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, tenant, project string, rule models.DetectionRule, activation models.PackActivation, logs []models.LogRecord) ([]models.DetectionEvent, error) {
	compiled := e.compile(rule)
	if compiled.err != nil {
		e.warnOnce(tenant, rule.ID, fmt.Sprintf("malformed condition %q: %v", rule.Condition, compiled.err))
		return nil, compiled.err
	}
	if len(compiled.unknownAtoms) > 0 {
		e.warnOnce(tenant, rule.ID, fmt.Sprintf("condition references undefined selections %v", compiled.unknownAtoms))
	}

	override := activation.OverrideFor(rule.ID)
	severity := override.EffectiveSeverity(rule.Level)
	names := selectionNames(rule)

	var matches []models.DetectionEvent
	for _, log := range logs {
		if !matchLogsource(rule.Logsource, log) {
			continue
		}
		selections := make(map[string]bool, len(rule.Selections))
		for _, sel := range rule.Selections {
			selections[sel.Name] = matchSelection(sel, log)
		}
		if !compiled.node.eval(conditionEnv{selections: selections, names: names}) {
			continue
		}

		event := models.DetectionEvent{
			ID:        uuid.New().String(),
			Tenant:    tenant,
			Project:   project,
			RuleID:    rule.ID,
			LogID:     log.ID,
			Severity:  severity,
			Timestamp: log.Timestamp,
			Excerpt:   models.Excerpt(log.Message),
		}
		if e.detections != nil {
			if err := e.detections.Insert(ctx, &event); err != nil {
				e.logger.Warn().Err(err).Str("rule_id", rule.ID).Str("log_id", log.ID).Msg("Evaluator: failed to persist detection event")
				continue
			}
		}
		matches = append(matches, event)
	}
	return matches, nil
}

// compile parses and caches rule's condition the first time it is seen.
// Rule literals are static for the process lifetime, so the cache never
// needs invalidation.
func (e *Evaluator) compile(rule models.DetectionRule) compiledRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.compiled[rule.ID]; ok {
		return c
	}

	node, err := parseCondition(rule.Condition)
	c := compiledRule{node: node, err: err}
	if err == nil {
		known := make(map[string]bool, len(rule.Selections))
		for _, sel := range rule.Selections {
			known[sel.Name] = true
		}
		for _, name := range collectNames(node) {
			if !known[name] {
				c.unknownAtoms = append(c.unknownAtoms, name)
			}
		}
	}
	e.compiled[rule.ID] = c
	return c
}

// warnOnce logs msg for (tenant, ruleID) at most once for this Evaluator's
// lifetime, per spec.md §4.I's "logged once per (tenant, rule)" tie-break.
func (e *Evaluator) warnOnce(tenant, ruleID, msg string) {
	key := tenant + "|" + ruleID
	if _, loaded := e.warned.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	e.logger.Warn().Str("tenant", tenant).Str("rule_id", ruleID).Msg("Evaluator: " + msg)
}

func selectionNames(rule models.DetectionRule) []string {
	names := make([]string, len(rule.Selections))
	for i, sel := range rule.Selections {
		names[i] = sel.Name
	}
	return names
}
