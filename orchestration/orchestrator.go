package orchestration

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/telemetry"
)

// Orchestrator drives the tier-escalation loop: route the tier, fan
// out, merge and dedup, validate, then return, escalate, or halt for
// consent. All collaborators are injected; startup wires one instance
// per process.
type Orchestrator struct {
	routing   *RoutingTable
	fetcher   Fetcher
	validator Validator
	breaker   CircuitBreaker
	halts     HaltStore
	usage     UsageLogger
	clock     core.Clock
	logger    core.Logger
}

// OrchestratorConfig wires an Orchestrator's dependencies
type OrchestratorConfig struct {
	Routing   *RoutingTable
	Fetcher   Fetcher
	Validator Validator
	Breaker   CircuitBreaker
	HaltStore HaltStore
	Usage     UsageLogger
	Clock     core.Clock
	Logger    core.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Usage == nil {
		cfg.Usage = NoOpUsageLogger{}
	}
	return &Orchestrator{
		routing:   cfg.Routing,
		fetcher:   cfg.Fetcher,
		validator: cfg.Validator,
		breaker:   cfg.Breaker,
		halts:     cfg.HaltStore,
		usage:     cfg.Usage,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Execute runs a fresh orchestration from tier 1.
// Transient upstream faults become data in the result; Execute only
// returns an error for programmer faults (unknown intent, misconfigured
// routing) and external cancellation.
func (o *Orchestrator) Execute(ctx context.Context, intent Intent, query string, rc RequestContext) (*OrchestrationResult, error) {
	return o.run(ctx, intent, query, rc, MinTier, newAccumulator())
}

// Resume continues a halted orchestration from the tier after the halt
// point, with the halt record's accumulators pre-loaded and the
// per-query confirmation granted. No tier is re-executed after resume.
func (o *Orchestrator) Resume(ctx context.Context, halt *HaltRecord, rc RequestContext) (*OrchestrationResult, error) {
	if halt == nil {
		return nil, core.NewAssistantError("orchestration.Resume", "halt", core.ErrHaltNotFound)
	}

	rc.Consent.PerQueryConfirmed = true
	if len(rc.RequestedProducts) == 0 {
		rc.RequestedProducts = halt.RequestedProducts
	}

	acc := newAccumulator()
	acc.preload(halt)

	o.usage.RecordConsent(rc.SessionID, rc.UserID, halt.PendingConsentType)
	o.logger.Info("Resuming halted orchestration", map[string]interface{}{
		"operation":    "orchestration_resume",
		"session_id":   rc.SessionID,
		"intent":       string(halt.Intent),
		"resume_tier":  halt.TierReached + 1,
		"consent_type": string(halt.PendingConsentType),
	})

	return o.run(ctx, halt.Intent, halt.Query, rc, halt.TierReached+1, acc)
}

func (o *Orchestrator) run(ctx context.Context, intent Intent, query string, rc RequestContext, startTier int, acc *accumulator) (*OrchestrationResult, error) {
	runID := uuid.New().String()
	started := o.clock.Now()

	o.logger.Info("Orchestration starting", map[string]interface{}{
		"operation":  "orchestration_start",
		"run_id":     runID,
		"intent":     string(intent),
		"query":      query,
		"start_tier": startTier,
		"session_id": rc.SessionID,
	})

	tier := startTier
	for {
		if err := ctx.Err(); err != nil {
			// Hard abort: no halt record is written
			return nil, core.NewAssistantError("orchestration.run", "cancel", core.ErrContextCanceled)
		}

		names, skipped, err := o.routing.PartitionAPIsFor(intent, tier, o.breaker)
		if err != nil {
			return nil, core.NewAssistantError("orchestration.run", "routing", err)
		}
		raw, _ := o.routing.RawAPIsFor(intent, tier)

		// Circuit-skipped names never reach the fetcher but still count
		// as unavailable sources. The set is the routing-time snapshot,
		// so a breaker self-healing mid-fetch cannot drop a skipped API
		// from the accounting.
		for _, n := range skipped {
			acc.markUnavailable(n)
		}

		envelopes := o.fetcher.Fetch(ctx, names, query, tier, rc)

		if err := ctx.Err(); err != nil {
			return nil, core.NewAssistantError("orchestration.run", "cancel", core.ErrContextCanceled)
		}

		// Stable merge by routing-table position: earlier APIs are
		// authoritative when two providers return the same item.
		acc.merge(raw, envelopes)

		decision := o.validator.Validate(intent, tier, acc.evidence(), rc)

		o.logger.Debug("Tier validated", map[string]interface{}{
			"operation": "tier_validate",
			"run_id":    runID,
			"tier":      tier,
			"outcome":   string(decision.Outcome),
			"items":     len(acc.items),
			"snippets":  len(acc.snippets),
		})

		switch decision.Outcome {
		case OutcomeSufficient:
			o.finishHalt(ctx, rc.SessionID)
			telemetry.Counter("orchestration.runs", "intent", string(intent), "status", string(StatusSuccess))
			telemetry.Histogram("orchestration.duration_ms", float64(o.clock.Now().Sub(started).Milliseconds()), "intent", string(intent))
			return acc.result(runID, StatusSuccess, tier, nil), nil

		case OutcomeEscalate:
			if !o.hasRemainingAPIs(intent, decision.NextTier) {
				// Nothing routed at any deeper tier: exhausted early
				o.finishHalt(ctx, rc.SessionID)
				telemetry.Counter("orchestration.runs", "intent", string(intent), "status", string(StatusPartial))
				return acc.result(runID, StatusPartial, tier, nil), nil
			}
			telemetry.Counter("orchestration.escalations", "intent", string(intent), "to_tier", fmt.Sprintf("%d", decision.NextTier))
			tier = decision.NextTier

		case OutcomeConsentRequired:
			if !o.hasRemainingAPIs(intent, decision.NextTier) {
				// Never prompt for consent when no deeper tier is routed
				o.finishHalt(ctx, rc.SessionID)
				telemetry.Counter("orchestration.runs", "intent", string(intent), "status", string(StatusPartial))
				return acc.result(runID, StatusPartial, tier, nil), nil
			}
			prompt := BuildConsentPrompt(decision.ConsentType, decision.NextTier)
			o.persistHalt(ctx, intent, query, rc, tier, decision.ConsentType, acc)
			o.usage.RecordConsent(rc.SessionID, rc.UserID, decision.ConsentType)
			telemetry.Counter("orchestration.runs", "intent", string(intent), "status", string(StatusConsentRequired))
			return acc.result(runID, StatusConsentRequired, tier, prompt), nil

		case OutcomeExhausted:
			o.finishHalt(ctx, rc.SessionID)
			telemetry.Counter("orchestration.runs", "intent", string(intent), "status", string(StatusPartial))
			return acc.result(runID, StatusPartial, tier, nil), nil

		default:
			return nil, core.NewAssistantError("orchestration.run", "validator",
				fmt.Errorf("unknown decision outcome %q", decision.Outcome))
		}
	}
}

// hasRemainingAPIs reports whether any tier from startTier up still
// routes at least one active API for the intent. Flag-disabled names
// do not count; a tier whose every API is flagged off is as empty as an
// unrouted one. Open circuits do count, since they can close again.
func (o *Orchestrator) hasRemainingAPIs(intent Intent, startTier int) bool {
	for t := startTier; t <= MaxTier; t++ {
		names, err := o.routing.APIsFor(intent, t, nil)
		if err == nil && len(names) > 0 {
			return true
		}
	}
	return false
}

// persistHalt writes the halt record; persistence failure degrades to a
// consent_required result without resume rather than failing the run.
func (o *Orchestrator) persistHalt(ctx context.Context, intent Intent, query string, rc RequestContext, tier int, consentType ConsentType, acc *accumulator) {
	if o.halts == nil || rc.SessionID == "" {
		return
	}
	rec := &HaltRecord{
		Intent:              intent,
		Query:               query,
		AccumulatedItems:    acc.items,
		AccumulatedSnippets: acc.snippets,
		SourcesUsedSoFar:    acc.sourcesUsed,
		SourcesUnavailable:  acc.sourcesUnavailable,
		TierReached:         tier,
		PendingConsentType:  consentType,
		RequestedProducts:   rc.RequestedProducts,
		HaltedAt:            o.clock.Now(),
	}
	if err := o.halts.Set(ctx, rc.SessionID, rec); err != nil {
		o.logger.Warn("Halt record persistence failed, consent resume disabled for this prompt", map[string]interface{}{
			"operation":  "halt_persist",
			"session_id": rc.SessionID,
			"error":      err.Error(),
		})
	}
}

// finishHalt deletes the session's halt record on terminal outcomes
func (o *Orchestrator) finishHalt(ctx context.Context, sessionID string) {
	if o.halts == nil || sessionID == "" {
		return
	}
	if err := o.halts.Delete(ctx, sessionID); err != nil {
		o.logger.Warn("Halt record cleanup failed", map[string]interface{}{
			"operation":  "halt_cleanup",
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// accumulator is the run-scoped dedup state. Items and snippets keep
// first-seen order; the key sets make later duplicates no-ops.
type accumulator struct {
	items       []Item
	snippets    []Snippet
	itemKeys    map[string]struct{}
	snippetKeys map[string]struct{}

	sourcesUsed        []string
	sourcesUnavailable []string
	usedSet            map[string]struct{}
	unavailableSet     map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		itemKeys:       make(map[string]struct{}),
		snippetKeys:    make(map[string]struct{}),
		usedSet:        make(map[string]struct{}),
		unavailableSet: make(map[string]struct{}),
	}
}

// preload seeds the accumulator from a halt record
func (a *accumulator) preload(halt *HaltRecord) {
	for _, item := range halt.AccumulatedItems {
		a.addItem(item)
	}
	for _, sn := range halt.AccumulatedSnippets {
		a.addSnippet(sn)
	}
	for _, src := range halt.SourcesUsedSoFar {
		a.markUsed(src)
	}
	for _, src := range halt.SourcesUnavailable {
		a.markUnavailable(src)
	}
}

// merge folds one tier's envelopes into the accumulator, iterating in
// routing-table order so dedup tie-breaks are deterministic. Names in
// the raw routing list with no envelope were flag-filtered or
// circuit-skipped pre-dispatch; the run loop accounts circuit skips
// separately, so here they are simply passed over.
func (a *accumulator) merge(rawOrder []string, envelopes map[string]CallEnvelope) {
	for _, name := range rawOrder {
		env, ok := envelopes[name]
		if !ok {
			// Feature-flag-disabled: treated as not present, no envelope
			continue
		}
		if env.Status != CallSuccess {
			a.markUnavailable(name)
			continue
		}
		a.markUsed(name)
		for _, item := range env.Payload.Items() {
			if item.Source == "" {
				item.Source = name
			}
			a.addItem(item)
		}
		if env.Payload != nil {
			for _, sn := range env.Payload.Snippets {
				if sn.Source == "" {
					sn.Source = name
				}
				a.addSnippet(sn)
			}
		}
	}
}

func (a *accumulator) addItem(item Item) {
	key := itemDedupKey(item)
	if _, dup := a.itemKeys[key]; dup {
		return
	}
	a.itemKeys[key] = struct{}{}
	a.items = append(a.items, item)
}

func (a *accumulator) addSnippet(sn Snippet) {
	key := snippetDedupKey(sn.Text)
	if _, dup := a.snippetKeys[key]; dup {
		return
	}
	a.snippetKeys[key] = struct{}{}
	a.snippets = append(a.snippets, sn)
}

func (a *accumulator) markUsed(name string) {
	if _, seen := a.usedSet[name]; seen {
		return
	}
	a.usedSet[name] = struct{}{}
	a.sourcesUsed = append(a.sourcesUsed, name)
}

func (a *accumulator) markUnavailable(name string) {
	if _, seen := a.unavailableSet[name]; seen {
		return
	}
	a.unavailableSet[name] = struct{}{}
	a.sourcesUnavailable = append(a.sourcesUnavailable, name)
}

func (a *accumulator) evidence() Evidence {
	return Evidence{
		Items:    a.items,
		Snippets: a.snippets,
		Sources:  a.sourcesUsed,
	}
}

func (a *accumulator) result(runID string, status ResultStatus, tier int, prompt *ConsentPrompt) *OrchestrationResult {
	return &OrchestrationResult{
		RunID:              runID,
		Status:             status,
		Items:              a.items,
		Snippets:           a.snippets,
		SourcesUsed:        a.sourcesUsed,
		SourcesUnavailable: a.sourcesUnavailable,
		TierReached:        tier,
		ConsentPrompt:      prompt,
	}
}

// itemDedupKey is the canonical normalized identifier that collapses
// the same item from two providers: lowercase name|model|sku when model
// or sku are present, name alone otherwise.
func itemDedupKey(item Item) string {
	name := strings.ToLower(strings.TrimSpace(item.Name))
	if item.Model == "" && item.SKU == "" {
		return name
	}
	return name + "|" + strings.ToLower(strings.TrimSpace(item.Model)) + "|" + strings.ToLower(strings.TrimSpace(item.SKU))
}

// snippetDedupKey is a short FNV-1a hash of the trimmed snippet text
func snippetDedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("%016x", h.Sum64())
}
