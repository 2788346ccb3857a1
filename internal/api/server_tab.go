package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/volume_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/volume_agent/internal/popup"
)

func registerTabHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body struct {
			Tabs []TabState `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs with volume state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type tabOutput struct {
		Body TabState
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tab/{tab_id}", Summary: "Get one tab's volume state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			tab, err := svc.GetTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = tab
			return out, nil
		})

	type popupOutput struct {
		Body popup.State
	}
	huma.Register(api, huma.Operation{OperationID: "get-popup-state", Method: http.MethodGet, Path: "/api/v1/tab/{tab_id}/popup", Summary: "Get popup render state for a tab", Tags: []string{"Popup"}},
		func(ctx context.Context, input *tabIDInput) (*popupOutput, error) {
			state, err := svc.PopupState(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &popupOutput{}
			out.Body = state
			return out, nil
		})

	type sliderInput struct {
		TabID int `path:"tab_id" minimum:"1"`
		Body  struct {
			Position int `json:"position" minimum:"0" doc:"Raw slider position (0-69)"`
		}
	}
	type sliderOutput struct {
		Body struct {
			Volume int `json:"volume"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "slider-input", Method: http.MethodPut, Path: "/api/v1/tab/{tab_id}/slider", Summary: "Report slider movement (debounced apply)", Tags: []string{"Popup"}},
		func(ctx context.Context, input *sliderInput) (*sliderOutput, error) {
			volume, err := svc.SliderInput(input.TabID, input.Body.Position)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sliderOutput{}
			out.Body.Volume = volume
			return out, nil
		})

	type volumeInput struct {
		TabID int `path:"tab_id" minimum:"1"`
		Body  struct {
			Volume int `json:"volume" minimum:"0" maximum:"600" doc:"Volume percentage (100 = native)"`
		}
	}
	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-tab-volume", Method: http.MethodPut, Path: "/api/v1/tab/{tab_id}/volume", Summary: "Set a tab's volume immediately", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *volumeInput) (*statusOutput, error) {
			if err := svc.SetTabVolume(ctx, input.TabID, input.Body.Volume); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "set"
			return out, nil
		})

	type probeOutput struct {
		Body cdpcontrol.PageProbe
	}
	huma.Register(api, huma.Operation{OperationID: "probe-tab", Method: http.MethodGet, Path: "/api/v1/tab/{tab_id}/probe", Summary: "Probe the page's audio interception state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*probeOutput, error) {
			probe, err := svc.ProbePage(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &probeOutput{}
			out.Body = probe
			return out, nil
		})
}
