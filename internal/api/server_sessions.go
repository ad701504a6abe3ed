package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

type userIDInput struct {
	UserID string `path:"user_id" doc:"Opaque user identifier the session is keyed by"`
}

func registerHealthHandlers(api huma.API, sessions Sessions) {
	type healthOutput struct {
		Body struct {
			Status   string `json:"status"`
			Sessions int    `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			if sessions != nil {
				out.Body.Sessions = sessions.Len()
			}
			return out, nil
		})
}

// adminSecurity marks operations that expose a user's live session.
var adminSecurity = []map[string][]string{{adminScheme: {}}}

func registerSessionHandlers(api huma.API, sessions Sessions) {
	type listOutput struct {
		Body []session.Snapshot
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List live login sessions",
		Tags:        []string{"Sessions"},
		Security:    adminSecurity,
	}, func(ctx context.Context, input *struct{}) (*listOutput, error) {
		out := &listOutput{}
		out.Body = sessions.List()
		return out, nil
	})

	type sessionOutput struct {
		Body session.Snapshot
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{user_id}",
		Summary:     "Get a user's session status",
		Tags:        []string{"Sessions"},
		Security:    adminSecurity,
	}, func(ctx context.Context, input *userIDInput) (*sessionOutput, error) {
		s := sessions.Get(input.UserID)
		if s == nil {
			return nil, mapErr(protocol.NewError(protocol.CodeSessionNotFound, "no session for user", nil))
		}
		out := &sessionOutput{}
		out.Body = s.Snapshot()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{user_id}",
		Summary:       "Close a user's session and release its browser",
		Tags:          []string{"Sessions"},
		Security:      adminSecurity,
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *userIDInput) (*struct{}, error) {
		if err := sessions.CloseUser(input.UserID, session.ReasonAdmin); err != nil {
			return nil, mapErr(err)
		}
		return nil, nil
	})

	type frameOutput struct {
		ContentType  string `header:"Content-Type"`
		CacheControl string `header:"Cache-Control"`
		FrameSeq     string `header:"X-Frame-Seq"`
		Body         []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-session-frame",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{user_id}/frame",
		Summary:     "Latest screencast frame",
		Tags:        []string{"Sessions"},
		Security:    adminSecurity,
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Latest captured frame",
				Content: map[string]*huma.MediaType{
					"image/jpeg": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *userIDInput) (*frameOutput, error) {
		s := sessions.Get(input.UserID)
		if s == nil {
			return nil, mapErr(protocol.NewError(protocol.CodeSessionNotFound, "no session for user", nil))
		}
		f, ok := s.LastFrame()
		if !ok {
			return nil, mapErr(protocol.NewError(protocol.CodeNoSession, "no frame captured yet", nil))
		}
		return &frameOutput{ContentType: "image/jpeg", CacheControl: "no-store", FrameSeq: strconv.FormatInt(f.Seq, 10), Body: f.Data}, nil
	})
}
