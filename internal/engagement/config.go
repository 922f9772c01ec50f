package engagement

import "time"

// Defaults for lecture engagement tracking.
const (
	DefaultTickInterval    = time.Second
	DefaultSyncInterval    = 15 * time.Second
	DefaultMinCompleteTime = 10 * time.Second
	DefaultScrollRatio     = 0.90
	DefaultNearBottomPx    = 50
	DefaultNearMaxScrollPx = 10
)

// Config holds the cadence and completion heuristics of a session.
// Zero values fall back to the defaults above. Engagement time is counted in
// whole seconds, so TickInterval and MinCompleteTime are truncated to whole
// seconds with a floor of one second.
type Config struct {
	TickInterval    time.Duration
	SyncInterval    time.Duration
	MinCompleteTime time.Duration

	ScrollRatio     float64
	NearBottomPx    float64
	NearMaxScrollPx float64
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    DefaultTickInterval,
		SyncInterval:    DefaultSyncInterval,
		MinCompleteTime: DefaultMinCompleteTime,
		ScrollRatio:     DefaultScrollRatio,
		NearBottomPx:    DefaultNearBottomPx,
		NearMaxScrollPx: DefaultNearMaxScrollPx,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	c.TickInterval = wholeSeconds(c.TickInterval)
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.MinCompleteTime <= 0 {
		c.MinCompleteTime = d.MinCompleteTime
	}
	c.MinCompleteTime = wholeSeconds(c.MinCompleteTime)
	if c.ScrollRatio <= 0 || c.ScrollRatio > 1 {
		c.ScrollRatio = d.ScrollRatio
	}
	if c.NearBottomPx <= 0 {
		c.NearBottomPx = d.NearBottomPx
	}
	if c.NearMaxScrollPx <= 0 {
		c.NearMaxScrollPx = d.NearMaxScrollPx
	}
	return c
}

func wholeSeconds(d time.Duration) time.Duration {
	d = d.Truncate(time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

// tickSeconds is the engagement time one clock tick accounts for.
func (c Config) tickSeconds() int {
	return int(wholeSeconds(c.TickInterval) / time.Second)
}

func (c Config) minCompleteSeconds() int {
	return int(wholeSeconds(c.MinCompleteTime) / time.Second)
}
