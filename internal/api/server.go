package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/popup"
)

// Service is what the HTTP layer needs from the rest of the agent.
type Service interface {
	ListTabs(ctx context.Context) ([]TabState, error)
	GetTab(ctx context.Context, tabID int) (TabState, error)
	PopupState(ctx context.Context, tabID int) (popup.State, error)
	SliderInput(tabID, raw int) (int, error)
	SetTabVolume(ctx context.Context, tabID, volume int) error
	ProbePage(ctx context.Context, tabID int) (cdpcontrol.PageProbe, error)
	ListDomainVolumes() []popup.DomainSetting
	SetDomainVolume(ctx context.Context, domain string, volume int) error
	DeleteDomainVolume(ctx context.Context, domain string) error
	Badges() []badge.TabBadge
}

// TabState is a tab plus the volume state the agent holds for it.
type TabState struct {
	TabID  int    `json:"tab_id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Domain string `json:"domain,omitempty"`
	Volume int    `json:"volume"`
	Badge  string `json:"badge,omitempty"`
}

type tabIDInput struct {
	TabID int `path:"tab_id" minimum:"1"`
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Volume Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/popup", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(popupHTML)); err != nil {
			slog.Debug("popup response write failed", "error", err)
		}
	})

	registerTabHandlers(api, svc)
	registerDomainHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
