package tabwatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Events receives tab lifecycle notifications. Full navigations and SPA
// route changes both land on OnTabNavigated; a closed tab lands on
// OnTabRemoved exactly once.
type Events interface {
	OnTabNavigated(ctx context.Context, tabID int, url string)
	OnTabRemoved(tabID int)
}

// TabResolver maps CDP targets to the agent's tab IDs. The watcher never
// assigns IDs itself; registration lives with the command-side client so both
// halves agree on numbering.
type TabResolver interface {
	TabIDForTarget(targetID string) (int, bool)
	SyncTabs(ctx context.Context) error
}

// Watcher follows browser tab lifecycle over a chromedp connection: one
// context per page target listening for navigation events, plus a periodic
// sweep that picks up newly opened tabs and notices closed ones.
type Watcher struct {
	cdpURL   string
	interval time.Duration
	events   Events
	resolver TabResolver

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	watched map[target.ID]*watchedTab
	done    chan struct{}
	wg      sync.WaitGroup
}

type watchedTab struct {
	tabID  int
	cancel context.CancelFunc
}

func NewWatcher(cdpURL string, interval time.Duration, events Events, resolver TabResolver) *Watcher {
	return &Watcher{
		cdpURL:   cdpURL,
		interval: interval,
		events:   events,
		resolver: resolver,
		watched:  make(map[target.ID]*watchedTab),
		done:     make(chan struct{}),
	}
}

// Start connects to the browser, attaches to current page targets, and
// begins the sweep loop.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("tabwatch connecting", "url", w.cdpURL)

	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), w.cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(w.allocCtx)
	defer tempCancel()
	if err := chromedp.Run(tempCtx); err != nil {
		w.allocCancel()
		return err
	}

	if err := w.sweep(ctx); err != nil {
		w.allocCancel()
		return err
	}

	w.wg.Add(1)
	go w.sweepLoop()

	w.mu.Lock()
	count := len(w.watched)
	w.mu.Unlock()
	slog.Info("tabwatch started", "tabs", count, "sweep_interval", w.interval)
	return nil
}

func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	for _, tab := range w.watched {
		tab.cancel()
	}
	w.watched = make(map[target.ID]*watchedTab)
	w.mu.Unlock()

	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("tabwatch closed")
	return nil
}

func (w *Watcher) sweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if err := w.sweep(ctx); err != nil {
				slog.Warn("tabwatch sweep failed", "error", err)
			}
			cancel()
		case <-w.done:
			return
		}
	}
}

// sweep reconciles the watched set with the browser's open page targets.
func (w *Watcher) sweep(ctx context.Context) error {
	tempCtx, tempCancel := chromedp.NewContext(w.allocCtx)
	defer tempCancel()

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return err
	}

	open := make(map[target.ID]*target.Info)
	for _, t := range targets {
		if t.Type != "page" || strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		open[t.TargetID] = t
	}

	// Closed tabs first, so their IDs are reported gone before anything new
	// is registered.
	w.mu.Lock()
	var removed []*watchedTab
	for id, tab := range w.watched {
		if _, ok := open[id]; ok {
			continue
		}
		removed = append(removed, tab)
		delete(w.watched, id)
	}
	w.mu.Unlock()

	for _, tab := range removed {
		tab.cancel()
		w.events.OnTabRemoved(tab.tabID)
		slog.Info("tabwatch tab closed", "tab_id", tab.tabID)
	}

	var fresh []*target.Info
	w.mu.Lock()
	for id, t := range open {
		if _, ok := w.watched[id]; !ok {
			fresh = append(fresh, t)
		}
	}
	w.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	// New targets need a tab ID before they can be watched.
	if err := w.resolver.SyncTabs(ctx); err != nil {
		slog.Warn("tabwatch registry sync failed", "error", err)
	}
	for _, t := range fresh {
		if err := w.watch(t); err != nil {
			slog.Warn("tabwatch attach failed", "target_id", t.TargetID, "error", err)
		}
	}
	return nil
}

func (w *Watcher) watch(t *target.Info) error {
	tabID, ok := w.resolver.TabIDForTarget(string(t.TargetID))
	if !ok {
		slog.Debug("tabwatch skipping unregistered target", "target_id", t.TargetID, "url", t.URL)
		return nil
	}

	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(t.TargetID))
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		return err
	}

	chromedp.ListenTarget(tabCtx, w.navigationHandler(tabID))

	w.mu.Lock()
	w.watched[t.TargetID] = &watchedTab{tabID: tabID, cancel: tabCancel}
	w.mu.Unlock()

	slog.Info("tabwatch watching tab", "tab_id", tabID, "url", truncateURL(t.URL))
	return nil
}

func (w *Watcher) navigationHandler(tabID int) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID != "" {
				return
			}
			slog.Debug("tabwatch navigation (full)", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
			w.notifyNavigated(tabID, e.Frame.URL)
		case *page.EventNavigatedWithinDocument:
			slog.Debug("tabwatch navigation (SPA)", "tab_id", tabID, "url", truncateURL(e.URL))
			w.notifyNavigated(tabID, e.URL)
		}
	}
}

func (w *Watcher) notifyNavigated(tabID int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.events.OnTabNavigated(ctx, tabID, url)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
