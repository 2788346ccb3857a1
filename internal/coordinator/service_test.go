package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/prefstore"
)

type fakeTabs struct {
	mu        sync.Mutex
	tabs      []cdpcontrol.TabInfo
	applied   map[int][]int
	applyErr  map[int]error
	available map[int]bool
}

func newFakeTabs(tabs ...cdpcontrol.TabInfo) *fakeTabs {
	return &fakeTabs{
		tabs:      tabs,
		applied:   make(map[int][]int),
		applyErr:  make(map[int]error),
		available: make(map[int]bool),
	}
}

func (f *fakeTabs) ApplyVolume(_ context.Context, tabID, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[tabID]; err != nil {
		return err
	}
	f.applied[tabID] = append(f.applied[tabID], volume)
	return nil
}

func (f *fakeTabs) CheckAvailability(_ context.Context, tabID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok, known := f.available[tabID]
	if !known {
		return false, errors.New("tab not reachable")
	}
	return ok, nil
}

func (f *fakeTabs) TabByID(tabID int) (cdpcontrol.TabInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tabs {
		if t.TabID == tabID {
			return t, true
		}
	}
	return cdpcontrol.TabInfo{}, false
}

func (f *fakeTabs) ListTabs(_ context.Context) ([]cdpcontrol.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cdpcontrol.TabInfo, len(f.tabs))
	copy(out, f.tabs)
	return out, nil
}

func (f *fakeTabs) appliedTo(tabID int) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.applied[tabID]...)
}

func newTestService(t *testing.T, tabs *fakeTabs) (*Service, *prefstore.Store, *badge.Registry) {
	t.Helper()
	store, err := prefstore.Open(filepath.Join(t.TempDir(), "volumes.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	badges := badge.NewRegistry()
	return New(tabs, store, badges, nil, Options{PropagateBatch: 2}), store, badges
}

func videoTab(id int, domain string) cdpcontrol.TabInfo {
	return cdpcontrol.TabInfo{
		TabID:    id,
		TargetID: "T" + string(rune('A'+id)),
		URL:      "https://" + domain + "/watch",
		Domain:   domain,
	}
}

func TestSetTabVolumePropagatesOnceToSiblings(t *testing.T) {
	tabs := newFakeTabs(
		videoTab(1, "video.example.com"),
		videoTab(2, "video.example.com"),
		videoTab(3, "video.example.com"),
		videoTab(4, "other.example.org"),
	)
	svc, store, _ := newTestService(t, tabs)

	err := svc.SetTabVolume(context.Background(), 1, 150, SetOptions{Propagate: true, Push: true})
	if err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}

	if got := tabs.appliedTo(1); len(got) != 1 || got[0] != 150 {
		t.Fatalf("source tab applies = %v, want [150]", got)
	}
	for _, id := range []int{2, 3} {
		if got := tabs.appliedTo(id); len(got) != 1 || got[0] != 150 {
			t.Fatalf("sibling tab %d applies = %v, want exactly one 150", id, got)
		}
	}
	if got := tabs.appliedTo(4); len(got) != 0 {
		t.Fatalf("unrelated domain received applies: %v", got)
	}

	if v, ok := store.Get("video.example.com"); !ok || v != 150 {
		t.Fatalf("stored domain volume = %d/%v, want 150", v, ok)
	}
	if _, ok := store.Get("other.example.org"); ok {
		t.Fatal("unrelated domain must not gain a stored volume")
	}
}

func TestVolumeForTabPrefersOverrideThenDomainThenDefault(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "music.example.com"))
	svc, store, _ := newTestService(t, tabs)

	if v := svc.VolumeForTab(1, ""); v != DefaultVolume {
		t.Fatalf("fresh tab volume = %d, want %d", v, DefaultVolume)
	}

	if err := store.Set("music.example.com", 80); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	tabs2 := newFakeTabs(videoTab(5, "music.example.com"))
	svc2 := New(tabs2, store, badge.NewRegistry(), nil, Options{PropagateBatch: 1})
	if v := svc2.VolumeForTab(5, ""); v != 80 {
		t.Fatalf("domain default = %d, want 80", v)
	}

	// The domain hit is cached as a per-tab value: deleting the stored
	// preference does not change an already-resolved tab.
	if err := store.Delete("music.example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v := svc2.VolumeForTab(5, ""); v != 80 {
		t.Fatalf("cached tab volume = %d, want 80", v)
	}

	if err := svc2.SetTabVolume(context.Background(), 5, 45, SetOptions{}); err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}
	if v := svc2.VolumeForTab(5, ""); v != 45 {
		t.Fatalf("override volume = %d, want 45", v)
	}
}

func TestResetDomainVolume(t *testing.T) {
	tabs := newFakeTabs(
		videoTab(1, "loud.example.com"),
		videoTab(2, "loud.example.com"),
		videoTab(3, "calm.example.net"),
	)
	svc, store, badges := newTestService(t, tabs)

	ctx := context.Background()
	if err := svc.SetTabVolume(ctx, 1, 300, SetOptions{Propagate: true, Push: true}); err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}
	if err := svc.SetTabVolume(ctx, 3, 60, SetOptions{Push: true}); err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}

	if err := svc.ResetDomainVolume(ctx, "loud.example.com"); err != nil {
		t.Fatalf("ResetDomainVolume: %v", err)
	}

	if _, ok := store.Get("loud.example.com"); ok {
		t.Fatal("stored preference must be gone after reset")
	}
	for _, id := range []int{1, 2} {
		got := tabs.appliedTo(id)
		if len(got) == 0 || got[len(got)-1] != DefaultVolume {
			t.Fatalf("tab %d last apply = %v, want trailing %d", id, got, DefaultVolume)
		}
		if _, ok := badges.Get(id); ok {
			t.Fatalf("tab %d badge must be cleared after reset", id)
		}
		if v := svc.VolumeForTab(id, ""); v != DefaultVolume {
			t.Fatalf("tab %d volume after reset = %d, want %d", id, v, DefaultVolume)
		}
	}

	// The unrelated domain keeps its override and badge.
	if v := svc.VolumeForTab(3, ""); v != 60 {
		t.Fatalf("unrelated tab volume = %d, want 60", v)
	}
	if _, ok := badges.Get(3); !ok {
		t.Fatal("unrelated tab badge must survive the reset")
	}
}

func TestOnTabRemovedDropsState(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "video.example.com"))
	svc, _, badges := newTestService(t, tabs)

	ctx := context.Background()
	if err := svc.SetTabVolume(ctx, 1, 250, SetOptions{Push: true}); err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}

	svc.OnTabRemoved(1)

	if _, ok := badges.Get(1); ok {
		t.Fatal("badge must be cleared when the tab goes away")
	}
	if v := svc.VolumeForTab(1, ""); v != DefaultVolume {
		t.Fatalf("removed tab volume = %d, want %d", v, DefaultVolume)
	}
}

func TestOnTabActivatedRefreshesBadge(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "video.example.com"))
	svc, store, badges := newTestService(t, tabs)

	if err := store.Set("video.example.com", 180); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc.OnTabActivated(1, "https://video.example.com/watch")
	b, ok := badges.Get(1)
	if !ok || b.Text != "180" {
		t.Fatalf("badge after activation = %+v/%v, want text 180", b, ok)
	}
	if b.Color != badge.ColorBoost {
		t.Fatalf("badge color = %s, want boost color", b.Color)
	}
}

func TestOnTabNavigatedReappliesNonDefault(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "video.example.com"), videoTab(2, "plain.example.org"))
	svc, store, _ := newTestService(t, tabs)

	if err := store.Set("video.example.com", 180); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	ctx := context.Background()
	svc.OnTabNavigated(ctx, 1, "https://video.example.com/next")
	if got := tabs.appliedTo(1); len(got) != 1 || got[0] != 180 {
		t.Fatalf("navigated tab applies = %v, want [180]", got)
	}

	// A tab at the neutral level needs no push after navigation.
	svc.OnTabNavigated(ctx, 2, "https://plain.example.org/page")
	if got := tabs.appliedTo(2); len(got) != 0 {
		t.Fatalf("neutral tab applies = %v, want none", got)
	}
}

func TestSetTabVolumeSwallowsPushFailure(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "video.example.com"))
	tabs.applyErr[1] = errors.New("target closed")
	svc, _, _ := newTestService(t, tabs)

	if err := svc.SetTabVolume(context.Background(), 1, 120, SetOptions{Push: true}); err != nil {
		t.Fatalf("push failure must not fail the call: %v", err)
	}
	if v := svc.VolumeForTab(1, ""); v != 120 {
		t.Fatalf("volume after failed push = %d, want 120", v)
	}
}

// brokenStore opens a store and then replaces its parent directory with a
// regular file, so every later flush fails while the in-memory map keeps
// working.
func brokenStore(t *testing.T, seed map[string]int) *prefstore.Store {
	t.Helper()
	sub := filepath.Join(t.TempDir(), "prefs")
	store, err := prefstore.Open(filepath.Join(sub, "volumes.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for d, v := range seed {
		if err := store.Set(d, v); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	if err := os.RemoveAll(sub); err != nil {
		t.Fatalf("remove store dir: %v", err)
	}
	if err := os.WriteFile(sub, []byte("x"), 0o644); err != nil {
		t.Fatalf("block store dir: %v", err)
	}
	return store
}

func TestPropagateSurvivesStoreWriteFailure(t *testing.T) {
	tabs := newFakeTabs(
		videoTab(1, "video.example.com"),
		videoTab(2, "video.example.com"),
		videoTab(3, "video.example.com"),
	)
	store := brokenStore(t, nil)
	svc := New(tabs, store, badge.NewRegistry(), nil, Options{PropagateBatch: 2})

	err := svc.SetTabVolume(context.Background(), 1, 150, SetOptions{Propagate: true, Push: true})
	if err != nil {
		t.Fatalf("a failed disk write must not fail the call: %v", err)
	}

	// Siblings still get the update and the value stays resolvable.
	for _, id := range []int{2, 3} {
		if got := tabs.appliedTo(id); len(got) != 1 || got[0] != 150 {
			t.Fatalf("sibling tab %d applies = %v, want exactly one 150", id, got)
		}
	}
	if v := svc.VolumeForTab(2, ""); v != 150 {
		t.Fatalf("volume after failed persist = %d, want 150", v)
	}
}

func TestResetDomainVolumeSurvivesStoreWriteFailure(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "loud.example.com"))
	store := brokenStore(t, map[string]int{"loud.example.com": 300})
	badges := badge.NewRegistry()
	svc := New(tabs, store, badges, nil, Options{PropagateBatch: 1})

	ctx := context.Background()
	if err := svc.SetTabVolume(ctx, 1, 300, SetOptions{Push: true}); err != nil {
		t.Fatalf("SetTabVolume: %v", err)
	}

	if err := svc.ResetDomainVolume(ctx, "loud.example.com"); err != nil {
		t.Fatalf("a failed disk write must not fail the reset: %v", err)
	}

	if got := tabs.appliedTo(1); len(got) == 0 || got[len(got)-1] != DefaultVolume {
		t.Fatalf("tab applies = %v, want trailing %d", got, DefaultVolume)
	}
	if _, ok := badges.Get(1); ok {
		t.Fatal("badge must be cleared even when the delete cannot be persisted")
	}
	if _, ok := store.Get("loud.example.com"); ok {
		t.Fatal("in-memory preference must be gone after reset")
	}
}

func TestPropagatePacesBatches(t *testing.T) {
	tabs := newFakeTabs(
		videoTab(1, "video.example.com"),
		videoTab(2, "video.example.com"),
		videoTab(3, "video.example.com"),
		videoTab(4, "video.example.com"),
		videoTab(5, "video.example.com"),
		videoTab(6, "video.example.com"),
	)
	store, err := prefstore.Open(filepath.Join(t.TempDir(), "volumes.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	delay := 25 * time.Millisecond
	svc := New(tabs, store, badge.NewRegistry(), nil, Options{PropagateBatch: 2, PropagateDelay: delay})

	start := time.Now()
	if err := svc.PropagateToDomain(context.Background(), "video.example.com", 150, 1); err != nil {
		t.Fatalf("PropagateToDomain: %v", err)
	}
	elapsed := time.Since(start)

	// Five siblings in batches of two means at least two full pauses.
	if elapsed < 2*delay {
		t.Fatalf("fan-out took %v, want at least %v of pacing", elapsed, 2*delay)
	}
	for _, id := range []int{2, 3, 4, 5, 6} {
		if got := tabs.appliedTo(id); len(got) != 1 || got[0] != 150 {
			t.Fatalf("sibling tab %d applies = %v, want exactly one 150", id, got)
		}
	}
}

func TestPropagateStopsOnContextCancel(t *testing.T) {
	tabs := newFakeTabs(
		videoTab(1, "video.example.com"),
		videoTab(2, "video.example.com"),
		videoTab(3, "video.example.com"),
		videoTab(4, "video.example.com"),
		videoTab(5, "video.example.com"),
	)
	store, err := prefstore.Open(filepath.Join(t.TempDir(), "volumes.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := New(tabs, store, badge.NewRegistry(), nil, Options{PropagateBatch: 1, PropagateDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err = svc.PropagateToDomain(ctx, "video.example.com", 150, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}

	reached := 0
	for _, id := range []int{2, 3, 4, 5} {
		reached += len(tabs.appliedTo(id))
	}
	if reached == 0 || reached >= 4 {
		t.Fatalf("applied to %d siblings, want a partial fan-out cut short by the deadline", reached)
	}
}

func TestCheckAvailabilityMapsErrorToFalse(t *testing.T) {
	tabs := newFakeTabs(videoTab(1, "video.example.com"))
	tabs.available[1] = true
	svc, _, _ := newTestService(t, tabs)

	ctx := context.Background()
	if !svc.CheckAvailability(ctx, 1) {
		t.Fatal("reachable tab must read available")
	}
	if svc.CheckAvailability(ctx, 99) {
		t.Fatal("unreachable tab must read unavailable, not error")
	}
}
