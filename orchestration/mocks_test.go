package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubBreaker opens exactly the names it is told to
type stubBreaker struct {
	mu        sync.Mutex
	open      map[string]bool
	successes []string
	failures  []string
}

func newStubBreaker(openNames ...string) *stubBreaker {
	open := make(map[string]bool)
	for _, n := range openNames {
		open[n] = true
	}
	return &stubBreaker{open: open}
}

func (b *stubBreaker) IsOpen(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[name]
}

func (b *stubBreaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes = append(b.successes, name)
}

func (b *stubBreaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, name)
}

// healingBreaker reports a name open exactly once, as if its reset
// window expired right after routing consulted it
type healingBreaker struct {
	mu     sync.Mutex
	opened map[string]bool
}

func newHealingBreaker(openNames ...string) *healingBreaker {
	opened := make(map[string]bool)
	for _, n := range openNames {
		opened[n] = true
	}
	return &healingBreaker{opened: opened}
}

func (b *healingBreaker) IsOpen(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened[name] {
		b.opened[name] = false
		return true
	}
	return false
}

func (b *healingBreaker) RecordSuccess(string) {}
func (b *healingBreaker) RecordFailure(string) {}

// scriptedAdapter returns a canned payload or error per provider tag.
// Behaviors not scripted return an empty payload.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses map[string]*Payload
	errs      map[string]error
	block     map[string]bool // block until ctx is done, then return ctx.Err()
	panics    map[string]bool
	calls     []string
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		responses: make(map[string]*Payload),
		errs:      make(map[string]error),
		block:     make(map[string]bool),
		panics:    make(map[string]bool),
	}
}

func (a *scriptedAdapter) respond(tag string, p *Payload) { a.responses[tag] = p }
func (a *scriptedAdapter) fail(tag string, err error)     { a.errs[tag] = err }
func (a *scriptedAdapter) hang(tag string)                { a.block[tag] = true }
func (a *scriptedAdapter) panicOn(tag string)             { a.panics[tag] = true }

func (a *scriptedAdapter) Invoke(ctx context.Context, providerTag, query string, rc RequestContext) (*Payload, error) {
	a.mu.Lock()
	a.calls = append(a.calls, providerTag)
	blocked := a.block[providerTag]
	shouldPanic := a.panics[providerTag]
	err := a.errs[providerTag]
	payload := a.responses[providerTag]
	a.mu.Unlock()

	if shouldPanic {
		panic(fmt.Sprintf("scripted panic for %s", providerTag))
	}
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if payload != nil {
		return payload, nil
	}
	return &Payload{}, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *scriptedAdapter) calledTags() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// singleAdapterMux serves the same adapter for every key
type singleAdapterMux struct {
	adapter Adapter
}

func (m singleAdapterMux) Adapter(key string) (Adapter, error) {
	return m.adapter, nil
}

// captureSink collects usage records in memory
type captureSink struct {
	mu      sync.Mutex
	records []UsageRecord
	err     error
}

func (s *captureSink) Write(rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) all() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// blockingSink holds every write until released, for saturation tests
type blockingSink struct {
	release chan struct{}
	started atomic.Int32
	written atomic.Int32
}

func (s *blockingSink) Write(rec UsageRecord) error {
	s.started.Add(1)
	<-s.release
	s.written.Add(1)
	return nil
}

// captureUsage is a synchronous UsageLogger for orchestrator tests
type captureUsage struct {
	mu       sync.Mutex
	records  []UsageRecord
	consents []ConsentType
}

func (u *captureUsage) Record(rec UsageRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
}

func (u *captureUsage) RecordConsent(sessionID, userID string, consentType ConsentType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consents = append(u.consents, consentType)
}

func (u *captureUsage) consentEvents() []ConsentType {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]ConsentType, len(u.consents))
	copy(out, u.consents)
	return out
}

// scriptedFetcher returns pre-built envelopes per tier and records the
// tiers it was asked for
type scriptedFetcher struct {
	mu       sync.Mutex
	byTier   map[int]map[string]CallEnvelope
	fetched  []int
	perNames map[int][]string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		byTier:   make(map[int]map[string]CallEnvelope),
		perNames: make(map[int][]string),
	}
}

func (f *scriptedFetcher) tier(t int, envelopes ...CallEnvelope) {
	m := make(map[string]CallEnvelope, len(envelopes))
	for _, env := range envelopes {
		m[env.APIName] = env
	}
	f.byTier[t] = m
}

func (f *scriptedFetcher) Fetch(ctx context.Context, names []string, query string, tier int, rc RequestContext) map[string]CallEnvelope {
	f.mu.Lock()
	f.fetched = append(f.fetched, tier)
	f.perNames[tier] = append([]string(nil), names...)
	f.mu.Unlock()

	scripted := f.byTier[tier]
	out := make(map[string]CallEnvelope, len(names))
	for _, name := range names {
		if env, ok := scripted[name]; ok {
			out[name] = env
			continue
		}
		out[name] = CallEnvelope{APIName: name, Status: CallError, ErrorMessage: "unscripted"}
	}
	return out
}

func (f *scriptedFetcher) tiersFetched() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.fetched))
	copy(out, f.fetched)
	return out
}

func (f *scriptedFetcher) namesFetched(tier int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.perNames[tier]...)
}

// successEnvelope builds a success envelope with product items
func successEnvelope(api string, names ...string) CallEnvelope {
	p := &Payload{}
	for _, n := range names {
		p.Products = append(p.Products, Item{Kind: KindProduct, Name: n})
	}
	return CallEnvelope{APIName: api, Status: CallSuccess, Payload: p}
}

// snippetEnvelope builds a success envelope with snippets
func snippetEnvelope(api string, texts ...string) CallEnvelope {
	p := &Payload{}
	for _, t := range texts {
		p.Snippets = append(p.Snippets, Snippet{Text: t})
	}
	return CallEnvelope{APIName: api, Status: CallSuccess, Payload: p}
}

func failedEnvelope(api string, status CallStatus) CallEnvelope {
	return CallEnvelope{APIName: api, Status: status, ErrorMessage: string(status)}
}
