package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/history"
	"github.com/dgnsrekt/volume_agent/internal/prefstore"
	"github.com/dgnsrekt/volume_agent/internal/urlutil"
)

// DefaultVolume is the neutral level a tab sits at until a user or a stored
// domain preference says otherwise.
const DefaultVolume = 100

// TabConn is the slice of the CDP client the coordinator needs. Keeping it an
// interface lets the propagation logic run against a fake in tests.
type TabConn interface {
	ApplyVolume(ctx context.Context, tabID, volume int) error
	CheckAvailability(ctx context.Context, tabID int) (bool, error)
	TabByID(tabID int) (cdpcontrol.TabInfo, bool)
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

// Options tunes propagation pacing.
type Options struct {
	PropagateBatch int
	PropagateDelay time.Duration
}

// SetOptions controls side effects of a volume change.
type SetOptions struct {
	// Propagate persists the value for the tab's domain and fans it out to
	// sibling tabs on the same domain.
	Propagate bool
	// Push applies the value inside the tab itself.
	Push bool
}

// Service owns the mapping of tabs and domains to volume levels and keeps
// browser tabs, the preference store, and badges consistent with it.
type Service struct {
	opts   Options
	tabs   TabConn
	store  *prefstore.Store
	badges *badge.Registry
	hist   *history.Log // optional

	mu         sync.Mutex
	tabVolumes map[int]int
}

func New(tabs TabConn, store *prefstore.Store, badges *badge.Registry, hist *history.Log, opts Options) *Service {
	if opts.PropagateBatch < 1 {
		opts.PropagateBatch = 1
	}
	return &Service{
		opts:       opts,
		tabs:       tabs,
		store:      store,
		badges:     badges,
		hist:       hist,
		tabVolumes: make(map[int]int),
	}
}

// SetTabVolume records a volume for one tab and performs the requested side
// effects. A push failure never fails the call: the tab may be mid-navigation
// or unavailable, and the recorded value is reapplied on the next navigation.
func (s *Service) SetTabVolume(ctx context.Context, tabID, volume int, opts SetOptions) error {
	if volume < 0 {
		volume = 0
	}

	s.mu.Lock()
	s.tabVolumes[tabID] = volume
	s.mu.Unlock()
	s.badges.SetVolume(tabID, volume)

	info, known := s.tabs.TabByID(tabID)

	if opts.Push {
		if err := s.tabs.ApplyVolume(ctx, tabID, volume); err != nil {
			slog.Warn("coordinator push volume failed", "tab_id", tabID, "volume", volume, "error", err)
		}
	}

	s.record(tabID, info.Domain, volume, "user")

	if opts.Propagate && known && info.Domain != "" {
		return s.PropagateToDomain(ctx, info.Domain, volume, tabID)
	}
	return nil
}

// PropagateToDomain persists a domain volume and applies it to every other
// open tab on that domain. Fan-out runs in small batches with a pause between
// them so a burst of slider input does not flood the devtools connection.
// Sibling updates never propagate again, which keeps fan-out a single hop.
func (s *Service) PropagateToDomain(ctx context.Context, domain string, volume int, sourceTabID int) error {
	if domain == "" {
		return nil
	}
	// Persistence is best effort: the in-memory value already changed and
	// sibling tabs still get the update even when the disk write fails.
	if err := s.store.Set(domain, volume); err != nil {
		slog.Error("coordinator persist domain volume failed", "domain", domain, "error", err)
	}

	tabs, err := s.tabs.ListTabs(ctx)
	if err != nil {
		slog.Warn("coordinator propagate list tabs failed", "domain", domain, "error", err)
		return nil
	}

	applied := 0
	inBatch := 0
	for _, tab := range tabs {
		if tab.Domain != domain || tab.TabID == sourceTabID {
			continue
		}
		s.mu.Lock()
		s.tabVolumes[tab.TabID] = volume
		s.mu.Unlock()
		s.badges.SetVolume(tab.TabID, volume)

		if err := s.tabs.ApplyVolume(ctx, tab.TabID, volume); err != nil {
			slog.Warn("coordinator propagate apply failed",
				"tab_id", tab.TabID, "domain", domain, "error", err)
		} else {
			applied++
		}
		s.record(tab.TabID, domain, volume, "propagate")

		inBatch++
		if inBatch >= s.opts.PropagateBatch && s.opts.PropagateDelay > 0 {
			inBatch = 0
			select {
			case <-time.After(s.opts.PropagateDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	slog.Info("coordinator propagated domain volume",
		"domain", domain, "volume", volume, "tabs", applied)
	return nil
}

// VolumeForTab resolves the effective volume for a tab: an explicit per-tab
// value wins, then the stored domain preference, then the neutral default.
// A domain hit is cached into the tab map so later lookups and badge state
// stay consistent even if the preference is deleted afterwards.
func (s *Service) VolumeForTab(tabID int, url string) int {
	s.mu.Lock()
	if v, ok := s.tabVolumes[tabID]; ok {
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	domain := domainOf(s.tabs, tabID, url)
	if domain != "" {
		if v, ok := s.store.Get(domain); ok {
			s.mu.Lock()
			s.tabVolumes[tabID] = v
			s.mu.Unlock()
			s.badges.SetVolume(tabID, v)
			return v
		}
	}
	return DefaultVolume
}

// CheckAvailability reports whether volume control works in a tab. Any
// failure to reach the page reads as unavailable rather than an error.
func (s *Service) CheckAvailability(ctx context.Context, tabID int) bool {
	ok, err := s.tabs.CheckAvailability(ctx, tabID)
	if err != nil {
		slog.Debug("coordinator availability check failed", "tab_id", tabID, "error", err)
		return false
	}
	return ok
}

// ResetDomainVolume removes a stored domain preference and returns every open
// tab on that domain to the default level.
func (s *Service) ResetDomainVolume(ctx context.Context, domain string) error {
	if err := s.store.Delete(domain); err != nil {
		slog.Error("coordinator delete domain volume failed", "domain", domain, "error", err)
	}

	tabs, err := s.tabs.ListTabs(ctx)
	if err != nil {
		slog.Warn("coordinator reset list tabs failed", "domain", domain, "error", err)
		return nil
	}

	for _, tab := range tabs {
		if tab.Domain != domain {
			continue
		}
		s.mu.Lock()
		delete(s.tabVolumes, tab.TabID)
		s.mu.Unlock()
		s.badges.Clear(tab.TabID)

		if err := s.tabs.ApplyVolume(ctx, tab.TabID, DefaultVolume); err != nil {
			slog.Warn("coordinator reset apply failed", "tab_id", tab.TabID, "error", err)
		}
		s.record(tab.TabID, domain, DefaultVolume, "reset")
	}

	slog.Info("coordinator reset domain volume", "domain", domain)
	return nil
}

// DomainVolumes returns all stored domain preferences.
func (s *Service) DomainVolumes() map[string]int {
	return s.store.All()
}

// BadgeForTab returns the badge state shown for a tab, if any.
func (s *Service) BadgeForTab(tabID int) (badge.TabBadge, bool) {
	return s.badges.Get(tabID)
}

// OnTabNavigated reapplies the tab's effective volume after a navigation
// replaced the document. The fresh document starts at the neutral level, so
// anything other than the default has to be pushed again. Navigation pushes
// never propagate; the domain value is already stored.
func (s *Service) OnTabNavigated(ctx context.Context, tabID int, url string) {
	volume := s.VolumeForTab(tabID, url)
	if volume == DefaultVolume {
		s.badges.SetVolume(tabID, volume)
		return
	}

	if err := s.tabs.ApplyVolume(ctx, tabID, volume); err != nil {
		slog.Warn("coordinator navigation reapply failed", "tab_id", tabID, "volume", volume, "error", err)
		return
	}
	s.badges.SetVolume(tabID, volume)
	s.record(tabID, domainOf(s.tabs, tabID, url), volume, "navigate")
	slog.Debug("coordinator reapplied volume after navigation",
		"tab_id", tabID, "url", url, "volume", volume)
}

// OnTabActivated refreshes the badge for a tab coming into focus. There is no
// activation push event on the wire; this fires when the popup queries the
// tab.
func (s *Service) OnTabActivated(tabID int, url string) {
	s.badges.SetVolume(tabID, s.VolumeForTab(tabID, url))
}

// OnTabRemoved drops all per-tab state. Tab IDs are never reused, so a late
// event for a closed tab cannot resurrect its volume.
func (s *Service) OnTabRemoved(tabID int) {
	s.mu.Lock()
	delete(s.tabVolumes, tabID)
	s.mu.Unlock()
	s.badges.Clear(tabID)
	slog.Debug("coordinator dropped tab state", "tab_id", tabID)
}

func (s *Service) record(tabID int, domain string, volume int, source string) {
	if s.hist == nil {
		return
	}
	s.hist.Record(history.Event{
		TabID:  tabID,
		Domain: domain,
		Volume: volume,
		Source: source,
	})
}

func domainOf(tabs TabConn, tabID int, url string) string {
	if info, ok := tabs.TabByID(tabID); ok && info.Domain != "" {
		return info.Domain
	}
	return urlutil.DomainFromURL(url)
}
