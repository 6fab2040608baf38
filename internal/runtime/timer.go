package runtime

import (
	"time"

	"github.com/aretw0/marionette/pkg/ports"
)

// Context-match timer defaults.
const (
	DefaultMatchTimeoutMax    = 3 * time.Minute
	DefaultMatchTimeoutLoaded = 60 * time.Second
	DefaultMatchTimeoutIdle   = 15 * time.Second
)

// MatchConfig holds the context-match timer tunables.
type MatchConfig struct {
	TimeoutMax    time.Duration `mapstructure:"timeout_max"`
	TimeoutLoaded time.Duration `mapstructure:"timeout_loaded"`
	TimeoutIdle   time.Duration `mapstructure:"timeout_idle"`
}

// DefaultMatchConfig returns the default tunables.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		TimeoutMax:    DefaultMatchTimeoutMax,
		TimeoutLoaded: DefaultMatchTimeoutLoaded,
		TimeoutIdle:   DefaultMatchTimeoutIdle,
	}
}

func (c MatchConfig) withDefaults() MatchConfig {
	d := DefaultMatchConfig()
	if c.TimeoutMax > 0 {
		d.TimeoutMax = c.TimeoutMax
	}
	if c.TimeoutLoaded > 0 {
		d.TimeoutLoaded = c.TimeoutLoaded
	}
	if c.TimeoutIdle > 0 {
		d.TimeoutIdle = c.TimeoutIdle
	}
	return d
}

// pageState is the part of ports.Page the timer samples.
type pageState interface {
	Loaded() bool
	Network() ports.NetworkMonitor
}

// MatchTimer bounds how long context matching may wait for the page.
// The deadline starts at the hard ceiling, shrinks once the page has loaded
// and again once it went network-idle, and widens back to the ceiling when
// the page unloads. It never exceeds the ceiling.
type MatchTimer struct {
	page    pageState
	cfg     MatchConfig
	now     func() time.Time
	ceiling time.Time
	current time.Time
	loaded  bool
	idle    bool
}

// NewMatchTimer starts a timer now. A nil page only enforces the ceiling.
func NewMatchTimer(page pageState, cfg MatchConfig, now func() time.Time) *MatchTimer {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	start := now()
	return &MatchTimer{
		page:    page,
		cfg:     cfg,
		now:     now,
		ceiling: start.Add(cfg.TimeoutMax),
		current: start.Add(cfg.TimeoutMax),
	}
}

// CheckExpired samples the page state, updates the deadline and reports whether it passed.
func (t *MatchTimer) CheckExpired() bool {
	now := t.now()
	if t.page != nil {
		loaded := t.page.Loaded()
		silent := t.page.Network() != nil && t.page.Network().IsSilent()

		switch {
		case t.loaded && !loaded:
			t.loaded, t.idle = false, false
			t.current = t.ceiling
		case loaded && !t.loaded:
			t.loaded = true
			t.current = t.clamp(now.Add(t.cfg.TimeoutLoaded))
		}
		if t.loaded && silent && !t.idle {
			t.idle = true
			t.current = t.clamp(now.Add(t.cfg.TimeoutIdle))
		}
	}
	return now.After(t.current)
}

// Deadline returns the current deadline.
func (t *MatchTimer) Deadline() time.Time { return t.current }

func (t *MatchTimer) clamp(d time.Time) time.Time {
	if d.After(t.ceiling) {
		return t.ceiling
	}
	return d
}
