package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluesentinel/bluesentinel/server/internal/config"
)

const (
	defaultCooldown = 2 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
	deliverTimeout  = 15 * time.Second
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	DeviceID   string     `json:"device_id"`
	Severity   string     `json:"severity"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Notifier delivers alert state changes to an external system.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Engine evaluates alert rules against readings and health records and
// notifies every configured Notifier when a rule fires or resolves.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	rules     []config.AlertRule
	notifiers []Notifier
	active    map[string]*Alert    // key: "rule:device"
	lastFire  map[string]time.Time // last fire time per key (for cooldown)
	history   []*Alert             // recently resolved alerts
	now       func() time.Time
	wg        sync.WaitGroup
}

// New creates an Engine with the given rules and notifiers. Rules whose
// condition does not parse are logged and skipped.
func New(rules []config.AlertRule, notifiers ...Notifier) *Engine {
	e := &Engine{
		notifiers: notifiers,
		active:    make(map[string]*Alert),
		lastFire:  make(map[string]time.Time),
		now:       time.Now,
	}
	e.SetRules(rules)
	return e
}

// SetRules replaces the rule set. Firing alerts for rules that no longer
// exist are dropped without a resolve notification.
func (e *Engine) SetRules(rules []config.AlertRule) {
	valid := make([]config.AlertRule, 0, len(rules))
	names := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := Validate(r.Condition); err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		valid = append(valid, r)
		names[r.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = valid
	for key, a := range e.active {
		if !names[a.RuleName] {
			delete(e.active, key)
			delete(e.lastFire, key)
		}
	}
	slog.Info("alerts: rules loaded", "count", len(valid))
}

// Evaluate tests all rules against s. Alerts that fire are stored and
// delivered asynchronously. Alerts that were firing but whose condition is
// now false are resolved. Rules that s carries no data for are left alone.
func (e *Engine) Evaluate(s Subject) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return
	}

	device := s.DeviceID()
	now := e.now()
	for _, rule := range rules {
		fires, value, ok := evalCondition(rule.Condition, s)
		if !ok {
			continue
		}
		key := rule.Name + ":" + device

		e.mu.Lock()
		var out *Alert
		if fires {
			out = e.fireLocked(rule, key, device, value, now)
		} else {
			out = e.resolveLocked(key, now)
		}
		e.mu.Unlock()

		if out != nil {
			e.deliverAsync(*out)
		}
	}
}

func (e *Engine) fireLocked(rule config.AlertRule, key, device string, value float64, now time.Time) *Alert {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:        uuid.NewString(),
		RuleName:  rule.Name,
		DeviceID:  device,
		Severity:  sev,
		Condition: rule.Condition,
		Value:     value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
			sev, rule.Name, device, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now

	slog.Warn("alert fired", "rule", rule.Name, "device", device, "value", value, "severity", sev)
	cp := *a
	return &cp
}

func (e *Engine) resolveLocked(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.Message = fmt.Sprintf("[resolved] %s on %s: %s no longer holds", a.RuleName, a.DeviceID, a.Condition)
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}

	slog.Info("alert resolved", "rule", a.RuleName, "device", a.DeviceID)
	cp := *a
	return &cp
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight notifications have finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) deliverAsync(a Alert) {
	if len(e.notifiers) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		e.deliver(ctx, a)
	}()
}

// deliver sends a to every notifier. Errors are logged and do not affect
// the caller.
func (e *Engine) deliver(ctx context.Context, a Alert) {
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			slog.Error("alerts: delivery failed", "notifier", n.Name(), "rule", a.RuleName, "err", err)
			continue
		}
		slog.Debug("alerts: delivered", "notifier", n.Name(), "rule", a.RuleName, "state", a.State)
	}
}
