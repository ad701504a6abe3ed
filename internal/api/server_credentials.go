package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/RemoteLoginCore/internal/credentials"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

func registerCredentialHandlers(api huma.API, store credentials.Store) {
	type handoffInput struct {
		UserID string `path:"user_id"`
		Body   protocol.CredentialBundle
	}
	type handoffOutput struct {
		Body credentials.Result
	}
	huma.Register(api, huma.Operation{
		OperationID: "handoff-credentials",
		Method:      http.MethodPost,
		Path:        "/api/v1/credentials/{user_id}",
		Summary:     "Persist the authentication cookie pair for a user",
		Tags:        []string{"Credentials"},
	}, func(ctx context.Context, input *handoffInput) (*handoffOutput, error) {
		if err := credentials.Validate(input.Body); err != nil {
			return nil, mapErr(err)
		}
		if err := store.Save(ctx, input.UserID, input.Body); err != nil {
			slog.Error("credential handoff failed", "user_id", input.UserID, "code", protocol.CodeOf(err))
			return nil, mapErr(err)
		}
		slog.Info("credentials stored", "user_id", input.UserID, "has_li_a", input.Body.LiA != "")
		out := &handoffOutput{}
		out.Body = credentials.Result{Status: "stored", UserID: input.UserID}
		return out, nil
	})
}
