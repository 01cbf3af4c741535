// Package poller runs one independent, timer-driven poll schedule per
// (tenant, provider) pair. Each pair is a small state machine (idle,
// polling, backoff, cooldown) guarded by its own mutex, so two cycles for
// the same pair can never overlap while distinct pairs run fully
// concurrently. The schedule lives entirely on timers; there is no
// busy loop.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/audit"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/direction"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/provider"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/reconcile"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/store"
)

// Alerter receives exactly one notification when a pair crosses the
// consecutive-failure threshold.
type Alerter interface {
	Alert(pairKey string, consecutiveFailures int, lastErr error)
}

// AlertFunc adapts a function to the Alerter interface.
type AlertFunc func(pairKey string, consecutiveFailures int, lastErr error)

func (f AlertFunc) Alert(pairKey string, n int, lastErr error) { f(pairKey, n, lastErr) }

// Options configures a Poller. Zero values fall back to the defaults
// noted per field.
type Options struct {
	Store      store.Store
	Sink       audit.Sink
	Direction  *direction.Manager
	Reconciler *reconcile.Reconciler

	// Alerter fires once when a pair reaches AlertThreshold consecutive
	// failures. Optional.
	Alerter Alerter

	// MinInterval and MaxInterval clamp per-pair intervals
	// (defaults: 30s, 24h).
	MinInterval time.Duration
	MaxInterval time.Duration

	// BaseBackoff is the delay after the first failure; it doubles per
	// consecutive failure up to MaxBackoff (defaults: 5s, 10m).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// AlertThreshold is the consecutive-failure count at which the alert
	// fires and the pair enters cooldown (default: 3).
	AlertThreshold int

	// Cooldown is the window during which scheduled polls are skipped
	// after the threshold is crossed (default: 15m).
	Cooldown time.Duration
}

// PairConfig describes one sync pair to schedule.
type PairConfig struct {
	TenantID   string
	ProviderID string
	Connector  provider.Connector

	// Interval between successful cycles; clamped to the poller bounds.
	Interval time.Duration
}

// pairPhase is the scheduling state of one pair.
type pairPhase string

const (
	phaseIdle     pairPhase = "idle"
	phasePolling  pairPhase = "polling"
	phaseBackoff  pairPhase = "backoff"
	phaseCooldown pairPhase = "cooldown"
)

// pairRunner holds one pair's schedule, lock, and in-memory baseline.
type pairRunner struct {
	cfg   PairConfig
	timer *time.Timer

	// mu serializes cycles for this pair. A cycle holds it from first
	// connector call through the snapshot write.
	mu sync.Mutex

	// sched guards the scheduling fields below.
	sched               sync.Mutex
	phase               pairPhase
	consecutiveFailures int
	alerted             bool
	cooldownUntil       time.Time
	lastErr             error

	// baseline is the previous cycle's snapshot, kept in memory as the
	// diff input. The persisted SyncState stays the source of truth for
	// everything else; losing this cache only costs one differential
	// cycle after a restart.
	baseline *core.Snapshot
	checksum string
}

// PairStatus is a point-in-time view of one pair's schedule, for the
// operator surface.
type PairStatus struct {
	TenantID            string        `json:"tenantId"`
	ProviderID          string        `json:"providerId"`
	Phase               string        `json:"phase"`
	Interval            time.Duration `json:"interval"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	CooldownUntil       *time.Time    `json:"cooldownUntil,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

// Poller owns the pair schedules.
type Poller struct {
	opts Options

	mu     sync.Mutex
	pairs  map[string]*pairRunner
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a poller. Start must be called before timers fire.
func New(opts Options) *Poller {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 30 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 24 * time.Hour
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Minute
	}
	if opts.AlertThreshold <= 0 {
		opts.AlertThreshold = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 15 * time.Minute
	}
	return &Poller{
		opts:  opts,
		pairs: make(map[string]*pairRunner),
	}
}

// Add registers a pair. Its first cycle is scheduled when Start runs, or
// immediately if the poller is already started.
func (p *Poller) Add(cfg PairConfig) {
	cfg.Interval = clampInterval(cfg.Interval, p.opts.MinInterval, p.opts.MaxInterval)
	r := &pairRunner{cfg: cfg, phase: phaseIdle}

	p.mu.Lock()
	p.pairs[core.PairKey(cfg.TenantID, cfg.ProviderID)] = r
	started := p.ctx != nil
	p.mu.Unlock()

	if started {
		p.arm(r, 0)
	}
}

// Start schedules the first cycle for every registered pair.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	runners := make([]*pairRunner, 0, len(p.pairs))
	for _, r := range p.pairs {
		runners = append(runners, r)
	}
	p.mu.Unlock()

	for _, r := range runners {
		p.arm(r, 0)
	}
}

// Stop cancels pending timers and waits for in-flight cycles to finish
// their snapshot writes.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	for _, r := range p.pairs {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// TriggerNow runs one out-of-schedule cycle for the pair. It returns
// false when the pair is unknown. A cycle already in flight is not
// interrupted; the triggered cycle waits its turn on the pair lock.
func (p *Poller) TriggerNow(tenantID, providerID string) bool {
	p.mu.Lock()
	r, ok := p.pairs[core.PairKey(tenantID, providerID)]
	started := p.ctx != nil
	p.mu.Unlock()
	if !ok || !started {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(r, true)
	}()
	return true
}

// Baseline returns the pair's last observed snapshot, or nil before the
// first completed cycle. The caller must not mutate it.
func (p *Poller) Baseline(tenantID, providerID string) *core.Snapshot {
	p.mu.Lock()
	r, ok := p.pairs[core.PairKey(tenantID, providerID)]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseline
}

// Connector returns the pair's connector, or nil for an unknown pair.
func (p *Poller) Connector(tenantID, providerID string) provider.Connector {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.pairs[core.PairKey(tenantID, providerID)]
	if !ok {
		return nil
	}
	return r.cfg.Connector
}

// Status reports every pair's schedule state.
func (p *Poller) Status() []PairStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PairStatus, 0, len(p.pairs))
	for _, r := range p.pairs {
		r.sched.Lock()
		st := PairStatus{
			TenantID:            r.cfg.TenantID,
			ProviderID:          r.cfg.ProviderID,
			Phase:               string(r.phase),
			Interval:            r.cfg.Interval,
			ConsecutiveFailures: r.consecutiveFailures,
		}
		if !r.cooldownUntil.IsZero() && time.Now().Before(r.cooldownUntil) {
			t := r.cooldownUntil
			st.CooldownUntil = &t
		}
		if r.lastErr != nil {
			st.LastError = r.lastErr.Error()
		}
		r.sched.Unlock()
		out = append(out, st)
	}
	return out
}

// arm schedules the pair's next timer-driven cycle after delay.
func (p *Poller) arm(r *pairRunner, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil || p.ctx.Err() != nil {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, func() {
		p.wg.Add(1)
		defer p.wg.Done()
		p.poll(r, false)
	})
}

// poll runs one cycle and rearms the timer from its outcome. triggered
// cycles bypass the cooldown gate; scheduled ones are skipped inside it.
func (p *Poller) poll(r *pairRunner, triggered bool) {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	key := core.PairKey(r.cfg.TenantID, r.cfg.ProviderID)

	if !triggered {
		r.sched.Lock()
		inCooldown := time.Now().Before(r.cooldownUntil)
		r.sched.Unlock()
		if inCooldown {
			r.sched.Lock()
			r.phase = phaseCooldown
			until := r.cooldownUntil
			r.sched.Unlock()
			log.Printf("poller: pair=%s in cooldown until %s; skipping scheduled poll", key, until.Format(time.RFC3339))
			p.arm(r, time.Until(until)+time.Second)
			return
		}
	}

	r.mu.Lock()
	r.sched.Lock()
	r.phase = phasePolling
	r.sched.Unlock()

	err := p.runCycle(ctx, r)
	r.mu.Unlock()

	if err != nil {
		p.recordFailure(r, key, err)
		return
	}
	p.recordSuccess(r, key)
}

// recordSuccess resets the failure accounting and rearms at the normal
// interval.
func (p *Poller) recordSuccess(r *pairRunner, key string) {
	r.sched.Lock()
	r.phase = phaseIdle
	r.consecutiveFailures = 0
	r.alerted = false
	r.cooldownUntil = time.Time{}
	r.lastErr = nil
	r.sched.Unlock()
	p.arm(r, r.cfg.Interval)
}

// recordFailure advances the backoff ladder and, exactly at the threshold
// crossing, fires the alert and opens the cooldown window.
func (p *Poller) recordFailure(r *pairRunner, key string, err error) {
	r.sched.Lock()
	r.consecutiveFailures++
	n := r.consecutiveFailures
	r.lastErr = err
	r.phase = phaseBackoff

	delay := backoffDelay(p.opts.BaseBackoff, p.opts.MaxBackoff, n)

	crossed := n == p.opts.AlertThreshold && !r.alerted
	if crossed {
		r.alerted = true
		r.cooldownUntil = time.Now().Add(p.opts.Cooldown)
		r.phase = phaseCooldown
		delay = p.opts.Cooldown
	}
	r.sched.Unlock()

	log.Printf("poller: pair=%s cycle failed (consecutive=%d, next in %s): %v", key, n, delay, err)
	if crossed && p.opts.Alerter != nil {
		p.opts.Alerter.Alert(key, n, err)
	}
	p.arm(r, delay)
}

// backoffDelay returns base * 2^(n-1) capped at max.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func clampInterval(d, min, max time.Duration) time.Duration {
	if d <= 0 {
		return min
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
