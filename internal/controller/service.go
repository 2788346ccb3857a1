package controller

import (
	"context"
	"sort"
	"strings"

	"github.com/dgnsrekt/volume_agent/internal/api"
	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/coordinator"
	"github.com/dgnsrekt/volume_agent/internal/popup"
)

// Service glues the HTTP layer to the rest of the agent: tab enumeration via
// the CDP client, volume semantics via the coordinator, slider semantics via
// the popup controller.
type Service struct {
	cdp    *cdpcontrol.Client
	coord  *coordinator.Service
	pop    *popup.Controller
	badges *badge.Registry
}

func NewService(cdp *cdpcontrol.Client, coord *coordinator.Service, pop *popup.Controller, badges *badge.Registry) *Service {
	return &Service{cdp: cdp, coord: coord, pop: pop, badges: badges}
}

func (s *Service) requireDomain(domain string) (string, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "domain is required"}
	}
	return domain, nil
}

func (s *Service) ListTabs(ctx context.Context) ([]api.TabState, error) {
	tabs, err := s.cdp.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.TabState, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, s.tabState(tab))
	}
	return out, nil
}

func (s *Service) GetTab(ctx context.Context, tabID int) (api.TabState, error) {
	info, ok := s.cdp.TabByID(tabID)
	if !ok {
		// The registry may simply be stale; refresh once before giving up.
		if err := s.cdp.SyncTabs(ctx); err != nil {
			return api.TabState{}, err
		}
		if info, ok = s.cdp.TabByID(tabID); !ok {
			return api.TabState{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found"}
		}
	}
	return s.tabState(info), nil
}

func (s *Service) tabState(info cdpcontrol.TabInfo) api.TabState {
	state := api.TabState{
		TabID:  info.TabID,
		URL:    info.URL,
		Title:  info.Title,
		Domain: info.Domain,
		Volume: s.coord.VolumeForTab(info.TabID, info.URL),
	}
	if b, ok := s.badges.Get(info.TabID); ok {
		state.Badge = b.Text
	}
	return state
}

func (s *Service) PopupState(ctx context.Context, tabID int) (popup.State, error) {
	info, ok := s.cdp.TabByID(tabID)
	if !ok {
		return popup.State{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found"}
	}
	s.coord.OnTabActivated(tabID, info.URL)
	return s.pop.StateFor(ctx, tabID, info.URL), nil
}

func (s *Service) SliderInput(tabID, raw int) (int, error) {
	if _, ok := s.cdp.TabByID(tabID); !ok {
		return 0, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found"}
	}
	return s.pop.OnSliderInput(tabID, raw), nil
}

func (s *Service) SetTabVolume(ctx context.Context, tabID, volume int) error {
	if _, ok := s.cdp.TabByID(tabID); !ok {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found"}
	}
	return s.pop.SetVolume(ctx, tabID, volume)
}

func (s *Service) ProbePage(ctx context.Context, tabID int) (cdpcontrol.PageProbe, error) {
	return s.cdp.ProbePage(ctx, tabID)
}

func (s *Service) ListDomainVolumes() []popup.DomainSetting {
	return s.pop.Settings()
}

func (s *Service) SetDomainVolume(ctx context.Context, domain string, volume int) error {
	domain, err := s.requireDomain(domain)
	if err != nil {
		return err
	}
	if volume < 0 || volume > popup.MaxVolume {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "volume out of range"}
	}
	// Source tab 0 matches nothing, so every open tab on the domain gets the
	// new level.
	return s.coord.PropagateToDomain(ctx, domain, volume, 0)
}

func (s *Service) DeleteDomainVolume(ctx context.Context, domain string) error {
	domain, err := s.requireDomain(domain)
	if err != nil {
		return err
	}
	return s.pop.DeleteDomain(ctx, domain)
}

func (s *Service) Badges() []badge.TabBadge {
	all := s.badges.All()
	out := make([]badge.TabBadge, 0, len(all))
	for _, st := range all {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
