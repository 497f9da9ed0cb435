package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"certline/internal/domain"
	"certline/internal/engine"
	"certline/internal/events"
	"certline/internal/mail"
	"certline/internal/workspace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"column \"Email\" not found in sheet \"Recipients\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the batch over a small REST API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Certline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRoster(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var apiErr *workspace.APIError
	if errors.As(err, &apiErr) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"status": apiErr.StatusCode})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not found"),
		strings.Contains(lowered, "no header row"),
		strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRoster(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "roster-list",
		Method:      http.MethodGet,
		Path:        "/roster",
		Summary:     "Load and list roster recipients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.Recipient `json:"items"`
		} `json:"body"`
	}, error) {
		if err := e.Load(ctx); err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.Recipient `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = e.Recipients()
		return resp, nil
	})
}

type runRequest struct {
	Body struct {
		Notify     bool   `json:"notify,omitempty"`
		Subject    string `json:"subject,omitempty"`
		HTMLBody   string `json:"html_body,omitempty"`
		SenderName string `json:"sender_name,omitempty"`
	} `json:"body"`
}

type runSummary struct {
	RunID      string `json:"run_id"`
	Recipients int    `json:"recipients"`
}

func registerRuns(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-batch",
		Method:      http.MethodPost,
		Path:        "/runs",
		Summary:     "Run a full certificate batch",
	}, func(ctx context.Context, input *runRequest) (*struct {
		Body runSummary `json:"body"`
	}, error) {
		err := e.Run(ctx, engine.RunOptions{
			Notify: input.Body.Notify,
			Mail: mail.Options{
				Subject:    input.Body.Subject,
				HTMLBody:   input.Body.HTMLBody,
				SenderName: input.Body.SenderName,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body runSummary `json:"body"`
		}{Body: runSummary{RunID: e.RunID, Recipients: len(e.Recipients())}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	type eventsQuery struct {
		Limit int    `query:"limit" default:"20"`
		RunID string `query:"run_id"`
		Type  string `query:"type"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "events-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent run-log events",
	}, func(ctx context.Context, input *eventsQuery) (*struct {
		Body struct {
			Items []domain.Event `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := events.Latest(ctx, e.DB, input.Limit, input.RunID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.Event `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		return resp, nil
	})
}
