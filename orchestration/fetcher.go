package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/telemetry"
)

// ParallelFetcher performs the bounded-parallel fan-out over one tier's
// APIs. Each call gets its own deadline from the descriptor; results
// are gathered with no fail-fast, so one provider's failure never
// cancels its siblings. The outer request context cancels the whole
// group, turning in-flight calls into interrupted error envelopes.
type ParallelFetcher struct {
	registry  *Registry
	breaker   CircuitBreaker
	mux       AdapterMux
	usage     UsageLogger
	clock     core.Clock
	logger    core.Logger
	semaphore chan struct{}
}

// FetcherConfig wires a ParallelFetcher's dependencies
type FetcherConfig struct {
	Registry *Registry
	Breaker  CircuitBreaker
	Mux      AdapterMux
	Usage    UsageLogger
	Clock    core.Clock
	Logger   core.Logger

	// MaxConcurrency bounds simultaneous provider calls (default 8,
	// comfortably above the largest tier)
	MaxConcurrency int
}

// NewParallelFetcher creates a fetcher
func NewParallelFetcher(cfg FetcherConfig) *ParallelFetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Usage == nil {
		cfg.Usage = NoOpUsageLogger{}
	}
	return &ParallelFetcher{
		registry:  cfg.Registry,
		breaker:   cfg.Breaker,
		mux:       cfg.Mux,
		usage:     cfg.Usage,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		semaphore: make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Fetch dispatches the named APIs in parallel and returns one envelope
// per name. Circuit-open names are skipped without dispatch and yield
// circuit_open envelopes immediately.
func (f *ParallelFetcher) Fetch(ctx context.Context, names []string, query string, tier int, rc RequestContext) map[string]CallEnvelope {
	start := time.Now()
	envelopes := make(map[string]CallEnvelope, len(names))

	// Partition into active and skipped before spawning anything
	var active []string
	for _, name := range names {
		if f.breaker != nil && f.breaker.IsOpen(name) {
			envelopes[name] = CallEnvelope{
				APIName:      name,
				Status:       CallCircuitOpen,
				ErrorMessage: "circuit open",
			}
			telemetry.Counter("fetcher.calls", "api", name, "status", string(CallCircuitOpen))
			continue
		}
		active = append(active, name)
	}

	f.logger.Debug("Starting tier fan-out", map[string]interface{}{
		"operation":    "fetch_tier",
		"tier":         tier,
		"active_count": len(active),
		"skipped":      len(names) - len(active),
		"session_id":   rc.SessionID,
	})

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range active {
		wg.Add(1)
		go func(apiName string) {
			f.semaphore <- struct{}{}
			defer func() {
				<-f.semaphore
				if r := recover(); r != nil {
					// A panicking adapter becomes a failed envelope
					// rather than taking down the whole tier.
					f.logger.Error("Adapter panic recovered", map[string]interface{}{
						"operation": "adapter_panic",
						"api_name":  apiName,
						"panic":     fmt.Sprintf("%v", r),
						"stack":     string(debug.Stack()),
					})
					mu.Lock()
					envelopes[apiName] = CallEnvelope{
						APIName:      apiName,
						Status:       CallError,
						ErrorMessage: fmt.Sprintf("adapter panic: %v", r),
					}
					mu.Unlock()
				}
				wg.Done()
			}()

			env := f.callOne(ctx, apiName, query, tier, rc)

			mu.Lock()
			envelopes[apiName] = env
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	f.logger.Debug("Tier fan-out complete", map[string]interface{}{
		"operation":   "fetch_tier_complete",
		"tier":        tier,
		"envelopes":   len(envelopes),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return envelopes
}

// callOne executes a single provider call with its descriptor deadline
// and records the outcome in the breaker and the usage log.
func (f *ParallelFetcher) callOne(ctx context.Context, name, query string, tier int, rc RequestContext) CallEnvelope {
	desc, err := f.registry.Lookup(name)
	if err != nil {
		// Routing filtered flag-disabled names already; reaching here
		// means the table and catalog disagree.
		return CallEnvelope{
			APIName:      name,
			Status:       CallError,
			ErrorMessage: err.Error(),
		}
	}

	adapter, err := f.mux.Adapter(desc.AdapterKey)
	if err != nil {
		return CallEnvelope{
			APIName:      name,
			Status:       CallError,
			ErrorMessage: fmt.Sprintf("no adapter for key %q: %v", desc.AdapterKey, err),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	started := f.clock.Now()
	payload, callErr := adapter.Invoke(callCtx, desc.ProviderTag, query, rc)
	latency := f.clock.Now().Sub(started)

	env := CallEnvelope{APIName: name, Latency: latency}

	switch {
	case callErr == nil:
		env.Status = CallSuccess
		env.Payload = payload
		if f.breaker != nil {
			f.breaker.RecordSuccess(name)
		}
		f.usage.Record(UsageRecord{
			Timestamp: f.clock.Now(),
			UserID:    rc.UserID,
			SessionID: rc.SessionID,
			APIName:   name,
			Tier:      tier,
			CostUnits: desc.CostUnits,
			Latency:   latency,
			Success:   true,
		})

	case errors.Is(callErr, context.DeadlineExceeded) && ctx.Err() == nil:
		env.Status = CallTimeout
		env.ErrorMessage = fmt.Sprintf("timed out after %s", desc.Timeout)
		if f.breaker != nil {
			f.breaker.RecordFailure(name)
		}
		f.usage.Record(UsageRecord{
			Timestamp: f.clock.Now(),
			UserID:    rc.UserID,
			SessionID: rc.SessionID,
			APIName:   name,
			Tier:      tier,
			Latency:   latency,
			Success:   false,
			Error:     env.ErrorMessage,
		})

	case ctx.Err() != nil:
		// The outer request was cancelled: interrupted, not a provider
		// fault, so the breaker state is left untouched
		env.Status = CallError
		env.ErrorMessage = "interrupted: " + ctx.Err().Error()
		f.usage.Record(UsageRecord{
			Timestamp: f.clock.Now(),
			UserID:    rc.UserID,
			SessionID: rc.SessionID,
			APIName:   name,
			Tier:      tier,
			Latency:   latency,
			Success:   false,
			Error:     env.ErrorMessage,
		})

	default:
		env.Status = CallError
		env.ErrorMessage = callErr.Error()
		if f.breaker != nil {
			f.breaker.RecordFailure(name)
		}
		f.usage.Record(UsageRecord{
			Timestamp: f.clock.Now(),
			UserID:    rc.UserID,
			SessionID: rc.SessionID,
			APIName:   name,
			Tier:      tier,
			Latency:   latency,
			Success:   false,
			Error:     env.ErrorMessage,
		})
	}

	telemetry.Counter("fetcher.calls", "api", name, "status", string(env.Status))
	telemetry.Histogram("fetcher.call_latency_ms", float64(latency.Milliseconds()), "api", name)

	if env.Status != CallSuccess {
		f.logger.Warn("Provider call failed", map[string]interface{}{
			"operation":  "provider_call",
			"api_name":   name,
			"tier":       tier,
			"status":     string(env.Status),
			"error":      env.ErrorMessage,
			"latency_ms": latency.Milliseconds(),
		})
	}
	return env
}
