package popup

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dgnsrekt/volume_agent/internal/coordinator"
)

// applyTimeout bounds the debounced push that fires after slider input goes
// quiet. The popup request that triggered it has long since returned.
const applyTimeout = 10 * time.Second

// Volumes is the coordinator surface the popup drives.
type Volumes interface {
	SetTabVolume(ctx context.Context, tabID, volume int, opts coordinator.SetOptions) error
	VolumeForTab(tabID int, url string) int
	CheckAvailability(ctx context.Context, tabID int) bool
	ResetDomainVolume(ctx context.Context, domain string) error
	DomainVolumes() map[string]int
}

// State is what the popup needs to render for one tab.
type State struct {
	TabID          int  `json:"tab_id"`
	Volume         int  `json:"volume"`
	SliderPosition int  `json:"slider_position"`
	SliderMax      int  `json:"slider_max"`
	Available      bool `json:"available"`
}

// DomainSetting is one stored per-domain preference.
type DomainSetting struct {
	Domain string `json:"domain"`
	Volume int    `json:"volume"`
}

// Controller mediates between popup requests and the coordinator. Slider
// input arrives as a stream of raw positions while the user drags; the
// controller debounces so only the resting value is propagated and persisted.
type Controller struct {
	volumes  Volumes
	debounce *Debouncer
}

func NewController(volumes Volumes, debounceQuiet time.Duration) *Controller {
	return &Controller{
		volumes:  volumes,
		debounce: NewDebouncer(debounceQuiet),
	}
}

// OnSliderInput handles one slider movement. The decoded percentage is
// returned immediately for the popup's label; the actual volume change fires
// only after the input stream has been quiet for the debounce period.
func (c *Controller) OnSliderInput(tabID, raw int) int {
	percent := StepToPercent(raw)
	c.debounce.Call(func() {
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		defer cancel()
		err := c.volumes.SetTabVolume(ctx, tabID, percent,
			coordinator.SetOptions{Propagate: true, Push: true})
		if err != nil {
			slog.Warn("popup slider apply failed", "tab_id", tabID, "volume", percent, "error", err)
		}
	})
	return percent
}

// SetVolume applies an exact percentage without debouncing, for direct
// (non-drag) input.
func (c *Controller) SetVolume(ctx context.Context, tabID, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > MaxVolume {
		percent = MaxVolume
	}
	return c.volumes.SetTabVolume(ctx, tabID, percent,
		coordinator.SetOptions{Propagate: true, Push: true})
}

// StateFor resolves what the popup shows when it opens on a tab.
func (c *Controller) StateFor(ctx context.Context, tabID int, url string) State {
	volume := c.volumes.VolumeForTab(tabID, url)
	return State{
		TabID:          tabID,
		Volume:         volume,
		SliderPosition: PercentToStep(volume),
		SliderMax:      SliderMax,
		Available:      c.volumes.CheckAvailability(ctx, tabID),
	}
}

// Settings lists all stored domain preferences, sorted by domain.
func (c *Controller) Settings() []DomainSetting {
	stored := c.volumes.DomainVolumes()
	out := make([]DomainSetting, 0, len(stored))
	for domain, volume := range stored {
		out = append(out, DomainSetting{Domain: domain, Volume: volume})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// DeleteDomain removes a stored preference and resets its open tabs.
func (c *Controller) DeleteDomain(ctx context.Context, domain string) error {
	return c.volumes.ResetDomainVolume(ctx, domain)
}

// Close cancels any pending debounced apply.
func (c *Controller) Close() {
	c.debounce.Stop()
}
