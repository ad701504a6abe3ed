package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/RemoteLoginCore/internal/credentials"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/relay"
	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

// Sessions is the registry surface the admin API needs.
type Sessions interface {
	List() []session.Snapshot
	Get(userID string) *session.Session
	CloseUser(userID, reason string) error
	Len() int
}

// Deps wires the HTTP surface to the rest of the gateway.
type Deps struct {
	Sessions    Sessions
	Gateway     http.Handler
	Events      *relay.Broker
	Credentials credentials.Store
	Version     string
	// AdminToken, when set, is required as a bearer token on the session
	// endpoints and the event feed.
	AdminToken string
}

func NewServer(d Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(noStore)
	router.Use(requireAdmin(d.AdminToken))

	version := d.Version
	if version == "" {
		version = "1.0.0"
	}
	const title = "Remote Login Gateway API"
	cfg := huma.DefaultConfig(title, version)
	cfg.DocsPath = ""
	cfg.Info.Description = adminDescription
	if cfg.Components.SecuritySchemes == nil {
		cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	cfg.Components.SecuritySchemes[adminScheme] = &huma.SecurityScheme{
		Type:        "http",
		Scheme:      "bearer",
		Description: "Value of GATEWAY_ADMIN_TOKEN. Not enforced when the variable is unset.",
	}
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlPage(docsPage(title+" "+version, gatewayLinks)))
	router.Get("/docs/protocol", htmlPage(protocolDocsHTML))
	router.Get("/viewer", htmlPage(viewerHTML))
	if d.Gateway != nil {
		router.Handle("/ws", d.Gateway)
	}
	if d.Events != nil {
		router.Get("/api/v1/events", relay.SSEHandler(d.Events))
	}

	registerHealthHandlers(api, d.Sessions)
	registerSessionHandlers(api, d.Sessions)
	if d.Credentials != nil {
		registerCredentialHandlers(api, d.Credentials)
	}

	return router
}

func htmlPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Debug("page response write failed", "path", r.URL.Path, "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeValidation, protocol.CodeMalformed, protocol.CodeUnknownEvent:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeSessionNotFound, protocol.CodeNoSession:
			return huma.Error404NotFound(coded.Message)
		case protocol.CodeSessionConflict, protocol.CodeInvalidState:
			return huma.Error409Conflict(coded.Message)
		case protocol.CodeQueueFull:
			return huma.Error429TooManyRequests(coded.Message)
		case protocol.CodeDriverUnavailable, protocol.CodeNavigationFailed, protocol.CodeHandoffFailed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
