package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/volume_agent/internal/badge"
	"github.com/dgnsrekt/volume_agent/internal/popup"
)

func registerDomainHandlers(api huma.API, svc Service) {
	type domainsOutput struct {
		Body struct {
			Domains []popup.DomainSetting `json:"domains"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-domain-volumes", Method: http.MethodGet, Path: "/api/v1/domains", Summary: "List stored per-domain volumes", Tags: []string{"Domains"}},
		func(ctx context.Context, input *struct{}) (*domainsOutput, error) {
			out := &domainsOutput{}
			out.Body.Domains = svc.ListDomainVolumes()
			return out, nil
		})

	type domainVolumeInput struct {
		Domain string `path:"domain" doc:"Domain name, e.g. video.example.com"`
		Body   struct {
			Volume int `json:"volume" minimum:"0" maximum:"600"`
		}
	}
	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-domain-volume", Method: http.MethodPut, Path: "/api/v1/domain/{domain}/volume", Summary: "Set a domain volume and apply to its open tabs", Tags: []string{"Domains"}},
		func(ctx context.Context, input *domainVolumeInput) (*statusOutput, error) {
			if err := svc.SetDomainVolume(ctx, input.Domain, input.Body.Volume); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "set"
			return out, nil
		})

	type domainInput struct {
		Domain string `path:"domain"`
	}
	huma.Register(api, huma.Operation{OperationID: "delete-domain-volume", Method: http.MethodDelete, Path: "/api/v1/domain/{domain}", Summary: "Delete a stored domain volume and reset its tabs", Tags: []string{"Domains"}},
		func(ctx context.Context, input *domainInput) (*statusOutput, error) {
			if err := svc.DeleteDomainVolume(ctx, input.Domain); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})

	type badgesOutput struct {
		Body struct {
			Badges []badge.TabBadge `json:"badges"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-badges", Method: http.MethodGet, Path: "/api/v1/badges", Summary: "List active tab badges", Tags: []string{"Badges"}},
		func(ctx context.Context, input *struct{}) (*badgesOutput, error) {
			out := &badgesOutput{}
			out.Body.Badges = svc.Badges()
			return out, nil
		})
}

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
