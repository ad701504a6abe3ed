// Package credentials implements both sides of the cookie handoff: the
// client that posts a CredentialBundle to the persistence endpoint and the
// stores that endpoint writes into.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

const maxCookieLen = 4096

// Result is the endpoint's answer to a handoff.
type Result struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// Validate checks the shape of a bundle without inspecting its contents further.
func Validate(b protocol.CredentialBundle) error {
	if b.LiAt == "" {
		return protocol.NewError(protocol.CodeValidation, "li_at is required", nil)
	}
	for name, v := range map[string]string{"li_at": b.LiAt, "li_a": b.LiA} {
		if len(v) > maxCookieLen {
			return protocol.NewError(protocol.CodeValidation, name+" is too long", nil)
		}
		if strings.IndexFunc(v, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) || r == ';' }) >= 0 {
			return protocol.NewError(protocol.CodeValidation, name+" contains invalid characters", nil)
		}
	}
	return nil
}

// Send posts bundle for userID to endpoint. The user id is appended as a
// path segment.
func Send(ctx context.Context, client *http.Client, endpoint, userID string, bundle protocol.CredentialBundle) (Result, error) {
	if endpoint == "" {
		return Result{}, protocol.NewError(protocol.CodeValidation, "handoff endpoint is required", nil)
	}
	if userID == "" {
		return Result{}, protocol.NewError(protocol.CodeValidation, "user id is required", nil)
	}
	if err := Validate(bundle); err != nil {
		return Result{}, err
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	target := strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(userID)
	body, err := json.Marshal(bundle)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return Result{}, protocol.NewError(protocol.CodeHandoffFailed, "handoff request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, protocol.NewError(protocol.CodeHandoffFailed, fmt.Sprintf("handoff rejected: status=%d", resp.StatusCode), nil)
	}
	var res Result
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return Result{}, protocol.NewError(protocol.CodeHandoffFailed, "handoff response is not JSON", err)
		}
	}
	if res.Status == "" {
		res.Status = "ok"
	}
	return res, nil
}
