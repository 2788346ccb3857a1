package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/volume_agent/internal/urlutil"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// ReadyFunc is invoked when a page's interceptor reports it has installed.
type ReadyFunc func(tabID int, url string)

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
	installed bool   // interceptor registered for this session
}

// Client maintains the agent's view of page targets and drives the injected
// interceptor in each of them. Tab IDs are opaque integers assigned
// monotonically and never reused within an agent run.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu           sync.Mutex
	cdp          *rawCDP
	tabs         map[target.ID]*tabSession
	idToTarget   map[int]target.ID
	sessionToTab map[string]int
	assigned     map[target.ID]int // target → tab ID, survives reconnects
	nextTabID    int

	readyMu sync.Mutex
	onReady ReadyFunc

	tabLocksMu sync.Mutex
	tabLocks   map[int]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:       cdpURL,
		evalTimeout:  evalTimeout,
		tabs:         make(map[target.ID]*tabSession),
		idToTarget:   make(map[int]target.ID),
		sessionToTab: make(map[string]int),
		assigned:     make(map[target.ID]int),
		tabLocks:     make(map[int]*sync.Mutex),
	}
}

// OnReady sets the callback for interceptor readiness reports. Must be set
// before Connect.
func (c *Client) OnReady(fn ReadyFunc) {
	c.readyMu.Lock()
	c.onReady = fn
	c.readyMu.Unlock()
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	c.cdp.registerEventHandler("Runtime.bindingCalled", c.handleBindingCalled)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Closing the browser websocket implicitly detaches every flat session,
	// so teardown never waits on per-session round trips. The old tabSession
	// objects are discarded wholesale; c.assigned survives so targets keep
	// their tab IDs across a reconnect.
	if c.cdp != nil {
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.idToTarget = make(map[int]target.ID)
	c.sessionToTab = make(map[string]int)
}

// handleBindingCalled forwards interceptor readiness reports to the
// registered callback.
func (c *Client) handleBindingCalled(sessionID string, params json.RawMessage) {
	var ev struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if json.Unmarshal(params, &ev) != nil || ev.Name != readyBindingName {
		return
	}

	var payload struct {
		URL string `json:"url"`
	}
	if json.Unmarshal([]byte(ev.Payload), &payload) != nil {
		return
	}

	c.mu.Lock()
	tabID, ok := c.sessionToTab[sessionID]
	if ok {
		if targetID, found := c.idToTarget[tabID]; found {
			if session := c.tabs[targetID]; session != nil {
				session.info.URL = payload.URL
				session.info.Domain = urlutil.DomainFromURL(payload.URL)
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.readyMu.Lock()
	fn := c.onReady
	c.readyMu.Unlock()
	if fn != nil {
		// The callback issues CDP commands of its own; running it on the
		// read loop would block the very responses it waits for.
		go fn(tabID, payload.URL)
	}
	slog.Debug("cdpcontrol interceptor ready", "tab_id", tabID, "url", payload.URL)
}

// ListTabs refreshes the target list and returns all known tabs sorted by ID.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.SyncTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			tabs = append(tabs, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].TabID < tabs[j].TabID })
	return tabs, nil
}

// TabByID returns the current view of one tab without hitting the browser.
func (c *Client) TabByID(tabID int) (TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	targetID, ok := c.idToTarget[tabID]
	if !ok {
		return TabInfo{}, false
	}
	session := c.tabs[targetID]
	if session == nil {
		return TabInfo{}, false
	}
	return session.info, true
}

// TabIDForTarget resolves a CDP target ID to the agent's tab ID.
func (c *Client) TabIDForTarget(targetID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(targetID)]
	if session == nil {
		return 0, false
	}
	return session.info.TabID, true
}

// ApplyVolume pushes a volume percentage into a tab. The injected interceptor
// fans the value out to every gain stage it owns.
func (c *Client) ApplyVolume(ctx context.Context, tabID, volume int) error {
	if volume < 0 {
		return newError(CodeValidation, "volume must be >= 0", nil)
	}
	return c.evalOnTab(ctx, tabID, jsApplyVolume(volume), nil)
}

// CheckAvailability asks a tab whether volume interception works there.
// Transport failures surface as errors; callers treat them as "unavailable".
func (c *Client) CheckAvailability(ctx context.Context, tabID int) (bool, error) {
	var out struct {
		Available bool   `json:"available"`
		URL       string `json:"url"`
	}
	if err := c.evalOnTab(ctx, tabID, jsCheckAvailability(), &out); err != nil {
		return false, err
	}
	if !out.Available {
		return false, nil
	}
	return urlutil.HasDomain(out.URL), nil
}

// ProbePage reads the interceptor's internal counters for a tab.
func (c *Client) ProbePage(ctx context.Context, tabID int) (PageProbe, error) {
	var out PageProbe
	if err := c.evalOnTab(ctx, tabID, jsProbePage(), &out); err != nil {
		return PageProbe{}, err
	}
	return out, nil
}

// SyncTabs reconciles the tab registry with the browser's open targets and
// installs the interceptor on any tab that does not have it yet.
func (c *Client) SyncTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	c.installMissing(ctx)
	return nil
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[target.ID]*target.Info)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		expected[t.TargetID] = t
	}

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		if session != nil {
			// Session mutex is never taken under c.mu (ensureSession takes
			// them in the opposite order); drop reverse-map entries by value.
			delete(c.idToTarget, session.info.TabID)
			c.dropTabLock(session.info.TabID)
			for sid, tid := range c.sessionToTab {
				if tid == session.info.TabID {
					delete(c.sessionToTab, sid)
				}
			}
		}
		delete(c.tabs, targetID)
	}

	for _, t := range expected {
		c.upsertTargetLocked(t)
	}

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "tabs", len(c.tabs))
	return nil
}

// upsertTargetLocked records or refreshes one page target. A target seen
// before keeps the tab ID it was first assigned, even across a reconnect, so
// the watcher and coordinator never end up holding stale numbers.
func (c *Client) upsertTargetLocked(t *target.Info) {
	if session := c.tabs[t.TargetID]; session != nil {
		session.info.URL = t.URL
		session.info.Title = t.Title
		session.info.Domain = urlutil.DomainFromURL(t.URL)
		return
	}

	id, ok := c.assigned[t.TargetID]
	if !ok {
		c.nextTabID++
		id = c.nextTabID
		c.assigned[t.TargetID] = id
	}
	info := TabInfo{
		TabID:    id,
		TargetID: string(t.TargetID),
		URL:      t.URL,
		Title:    t.Title,
		Domain:   urlutil.DomainFromURL(t.URL),
	}
	c.tabs[t.TargetID] = &tabSession{info: info}
	c.idToTarget[id] = t.TargetID
}

// installMissing ensures every known tab has an attached session with the
// interceptor registered. Individual failures are logged and skipped; a tab
// that refuses injection simply stays unavailable.
func (c *Client) installMissing(ctx context.Context) {
	c.mu.Lock()
	sessions := make([]*tabSession, 0, len(c.tabs))
	for _, session := range c.tabs {
		if session != nil {
			sessions = append(sessions, session)
		}
	}
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return
	}

	for _, session := range sessions {
		session.mu.Lock()
		installed := session.installed
		session.mu.Unlock()
		if installed {
			continue
		}
		if _, err := c.ensureSession(ctx, cdp, session); err != nil {
			slog.Debug("cdpcontrol interceptor install skipped",
				"tab_id", session.info.TabID, "url", session.info.URL, "error", err)
		}
	}
}

// ensureSession returns a CDP session for the tab, attaching and installing
// the interceptor on first use.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" && session.installed {
		return session.sessionID, nil
	}

	if session.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, session.info.TargetID)
		if err != nil {
			return "", newError(CodeCDPUnavailable, "attach to target failed", err)
		}
		session.sessionID = sid
		c.mu.Lock()
		c.sessionToTab[sid] = session.info.TabID
		c.mu.Unlock()
		slog.Debug("cdpcontrol session attached",
			"tab_id", session.info.TabID, "session_id", sid)
	}

	if !session.installed {
		if err := c.installInterceptor(ctx, cdp, session.sessionID); err != nil {
			return "", err
		}
		session.installed = true
		slog.Info("cdpcontrol interceptor installed",
			"tab_id", session.info.TabID, "url", session.info.URL)
	}

	return session.sessionID, nil
}

// installInterceptor wires a session for volume control: binding first so
// readiness reports from future documents always land, then pre-page
// injection for every upcoming navigation, then a direct evaluation to cover
// the document that is already loaded. The guard flag makes the direct pass a
// no-op when pre-injection already ran.
func (c *Client) installInterceptor(ctx context.Context, cdp *rawCDP, sessionID string) error {
	if err := cdp.enablePageDomain(ctx, sessionID); err != nil {
		return newError(CodeCDPUnavailable, "Page.enable failed", err)
	}
	if err := cdp.enableRuntimeDomain(ctx, sessionID); err != nil {
		return newError(CodeCDPUnavailable, "Runtime.enable failed", err)
	}
	if err := cdp.addBinding(ctx, sessionID, readyBindingName); err != nil {
		return newError(CodeCDPUnavailable, "add ready binding failed", err)
	}
	if _, err := cdp.addScriptToEvaluateOnNewDocument(ctx, sessionID, interceptorJS); err != nil {
		return newError(CodeCDPUnavailable, "register interceptor failed", err)
	}
	if _, err := cdp.evaluate(ctx, sessionID, interceptorJS); err != nil {
		return newError(CodeEvalFailure, "bootstrap interceptor failed", err)
	}
	return nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID int, js string, out any) error {
	if tabID <= 0 {
		return newError(CodeValidation, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	session, err := c.resolveTabSession(ctx, tabID)
	if err == nil {
		err = c.evalOnSession(ctx, session, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.SyncTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
	}

	session, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "tab_id", session.info.TabID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.installed = false
		session.mu.Unlock()
		c.mu.Lock()
		delete(c.sessionToTab, sessionID)
		c.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func (c *Client) resolveTabSession(ctx context.Context, tabID int) (*tabSession, error) {
	session, found := c.lookupTabSession(tabID)
	if found {
		return session, nil
	}

	if err := c.SyncTabs(ctx); err != nil {
		return nil, err
	}

	session, found = c.lookupTabSession(tabID)
	if found {
		return session, nil
	}
	return nil, newError(CodeTabNotFound, "tab not found", nil)
}

func (c *Client) lookupTabSession(tabID int) (*tabSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	targetID, ok := c.idToTarget[tabID]
	if !ok {
		return nil, false
	}
	session := c.tabs[targetID]
	if session == nil {
		return nil, false
	}
	return session, true
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID int) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) dropTabLock(tabID int) {
	c.tabLocksMu.Lock()
	delete(c.tabLocks, tabID)
	c.tabLocksMu.Unlock()
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}
