package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/popup"
)

type stubService struct{}

func (s *stubService) ListTabs(ctx context.Context) ([]TabState, error) {
	return []TabState{{TabID: 1, URL: "https://video.example.com/watch", Domain: "video.example.com", Volume: 150, Badge: "150"}}, nil
}

func (s *stubService) GetTab(ctx context.Context, tabID int) (TabState, error) {
	if tabID != 1 {
		return TabState{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found"}
	}
	return TabState{TabID: 1, Volume: 150}, nil
}

func (s *stubService) PopupState(ctx context.Context, tabID int) (popup.State, error) {
	return popup.State{TabID: tabID, Volume: 150, SliderPosition: 24, SliderMax: popup.SliderMax, Available: true}, nil
}

func (s *stubService) SliderInput(tabID, raw int) (int, error) {
	return popup.StepToPercent(raw), nil
}

func (s *stubService) SetTabVolume(ctx context.Context, tabID, volume int) error { return nil }

func (s *stubService) ProbePage(ctx context.Context, tabID int) (cdpcontrol.PageProbe, error) {
	return cdpcontrol.PageProbe{Installed: true, Volume: 150}, nil
}

func (s *stubService) ListDomainVolumes() []popup.DomainSetting {
	return []popup.DomainSetting{{Domain: "video.example.com", Volume: 150}}
}

func (s *stubService) SetDomainVolume(ctx context.Context, domain string, volume int) error {
	return nil
}

func (s *stubService) DeleteDomainVolume(ctx context.Context, domain string) error { return nil }

func (s *stubService) Badges() []badge.TabBadge {
	return []badge.TabBadge{{TabID: 1, Text: "150", Color: badge.ColorBoost}}
}

func TestDocsDarkMode(t *testing.T) {
	h := NewServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestPopupPageCarriesSlider(t *testing.T) {
	h := NewServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/popup", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `type="range"`) {
		t.Fatal("popup page missing the range slider")
	}
	if !strings.Contains(body, `max="69"`) {
		t.Fatal("popup slider must default to the 69-step range")
	}
}

func TestUnknownTabMapsTo404(t *testing.T) {
	h := NewServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tab/99", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSliderInputReturnsDecodedVolume(t *testing.T) {
	h := NewServer(&stubService{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/tab/1/slider", strings.NewReader(`{"position":25}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var out struct {
		Volume int `json:"volume"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Volume != 160 {
		t.Fatalf("volume = %d, want 160", out.Volume)
	}
}
