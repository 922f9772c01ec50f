package engagement

// Geometry is one measurement of the lecture viewport. ScrollHeight and
// OffsetHeight are two competing sources for the content height; the larger
// one wins so a stale source never under-counts.
type Geometry struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	ScrollHeight   float64 `json:"scroll_height"`
	OffsetHeight   float64 `json:"offset_height"`
}

func (g Geometry) ContentHeight() float64 {
	if g.OffsetHeight > g.ScrollHeight {
		return g.OffsetHeight
	}
	return g.ScrollHeight
}

// IsZero reports whether nothing has been measured yet.
func (g Geometry) IsZero() bool {
	return g == Geometry{}
}

// ReachedBottom reports whether the learner has reached the end of the
// content. Any one of the four checks is enough.
func ReachedBottom(g Geometry, cfg Config) bool {
	cfg = cfg.withDefaults()
	content := g.ContentHeight()
	bottom := g.ScrollTop + g.ViewportHeight
	if content <= 0 {
		// nothing to scroll
		return true
	}

	if bottom/content >= cfg.ScrollRatio {
		return true
	}
	if content-bottom <= cfg.NearBottomPx {
		return true
	}
	if bottom >= content {
		return true
	}
	return g.ScrollTop >= content-g.ViewportHeight-cfg.NearMaxScrollPx
}

// detect runs the detector against the latest geometry. The latch is
// one-way: once set, further measurements are ignored.
func (t *tracking) detect(cfg Config) bool {
	if t.scrolledToBottom || !t.haveGeometry {
		return false
	}
	if !ReachedBottom(t.geometry, cfg) {
		return false
	}
	t.scrolledToBottom = true
	return true
}
