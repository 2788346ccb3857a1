package badge

import (
	"strconv"
	"sync"
)

// Badge colors, one per volume direction.
const (
	ColorBoost     = "#d93025" // above 100%
	ColorAttenuate = "#1a73e8" // below 100%
)

// TabBadge is the badge shown for one tab.
type TabBadge struct {
	TabID int    `json:"tab_id"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Registry tracks per-tab badge state, standing in for the toolbar badge the
// host runtime would render. The API exposes it; failures pushing it further
// (page overlay) are never surfaced.
type Registry struct {
	mu     sync.RWMutex
	badges map[int]TabBadge
}

// NewRegistry creates an empty badge registry.
func NewRegistry() *Registry {
	return &Registry{badges: make(map[int]TabBadge)}
}

// SetVolume renders the badge for a tab's volume. The native 100% shows no
// badge at all, matching the "blank badge at default volume" behavior.
func (r *Registry) SetVolume(tabID, volume int) {
	if volume == 100 {
		r.Clear(tabID)
		return
	}

	color := ColorAttenuate
	if volume > 100 {
		color = ColorBoost
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.badges[tabID] = TabBadge{TabID: tabID, Text: strconv.Itoa(volume), Color: color}
}

// Get returns the badge for a tab, if any.
func (r *Registry) Get(tabID int) (TabBadge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.badges[tabID]
	return st, ok
}

// Clear removes a tab's badge.
func (r *Registry) Clear(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.badges, tabID)
}

// All returns every current badge, keyed by tab ID.
func (r *Registry) All() map[int]TabBadge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]TabBadge, len(r.badges))
	for id, st := range r.badges {
		out[id] = st
	}
	return out
}
