package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReachedBottom(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		g    Geometry
		want bool
	}{
		{"top of long page", Geometry{ScrollTop: 0, ViewportHeight: 500, ScrollHeight: 5000}, false},
		{"ninety percent ratio", Geometry{ScrollTop: 4000, ViewportHeight: 500, ScrollHeight: 5000}, true},
		{"just under ratio", Geometry{ScrollTop: 3900, ViewportHeight: 500, ScrollHeight: 5000}, false},
		{"far from bottom on huge page", Geometry{ScrollTop: 9450, ViewportHeight: 500, ScrollHeight: 100000}, false},
		{"exact bottom", Geometry{ScrollTop: 99500, ViewportHeight: 500, ScrollHeight: 100000}, true},
		{"past bottom (overscroll)", Geometry{ScrollTop: 99600, ViewportHeight: 500, ScrollHeight: 100000}, true},
		{"near bottom on huge page", Geometry{ScrollTop: 99460, ViewportHeight: 500, ScrollHeight: 100000}, true},
		{"content fits viewport", Geometry{ScrollTop: 0, ViewportHeight: 800, ScrollHeight: 600}, true},
		{"no content height", Geometry{ScrollTop: 0, ViewportHeight: 800}, true},
		{"offset height wins", Geometry{ScrollTop: 0, ViewportHeight: 500, ScrollHeight: 400, OffsetHeight: 5000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReachedBottom(tt.g, cfg))
		})
	}
}

func TestReachedBottom_Tolerances(t *testing.T) {
	cfg := DefaultConfig()
	// A ratio of 1 leaves only the pixel checks.
	cfg.ScrollRatio = 1
	content := 1_000_000.0
	view := 500.0

	assert.True(t, ReachedBottom(Geometry{ScrollTop: content - view - 50, ViewportHeight: view, ScrollHeight: content}, cfg),
		"50px from the bottom counts")
	assert.False(t, ReachedBottom(Geometry{ScrollTop: content - view - 51, ViewportHeight: view, ScrollHeight: content}, cfg),
		"51px from the bottom does not")

	cfg.NearBottomPx = 1
	assert.True(t, ReachedBottom(Geometry{ScrollTop: content - view - 10, ViewportHeight: view, ScrollHeight: content}, cfg),
		"within 10px of max scroll counts")
	assert.False(t, ReachedBottom(Geometry{ScrollTop: content - view - 11, ViewportHeight: view, ScrollHeight: content}, cfg))
}

func TestDetect_IsALatch(t *testing.T) {
	cfg := DefaultConfig()
	var tr tracking
	assert.False(t, tr.detect(cfg), "no geometry yet")

	tr.geometry, tr.haveGeometry = bottomGeometry, true
	assert.True(t, tr.detect(cfg))
	assert.True(t, tr.scrolledToBottom)

	tr.geometry = topGeometry
	assert.False(t, tr.detect(cfg), "already latched")
	assert.True(t, tr.scrolledToBottom)
}
