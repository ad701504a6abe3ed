package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestSendPostsBundle(t *testing.T) {
	var method, path, contentType string
	var got protocol.CredentialBundle
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		method, path, contentType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"status":"stored","user_id":"u 1"}`), nil
	})}

	res, err := Send(context.Background(), client, "http://example.com/api/v1/credentials/", "u 1", protocol.CredentialBundle{LiAt: "AQEDAT", LiA: "AQEDAQ"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if method != http.MethodPost || path != "/api/v1/credentials/u 1" || contentType != "application/json" {
		t.Fatalf("request = %s %s (%s)", method, path, contentType)
	}
	if got.LiAt != "AQEDAT" || got.LiA != "AQEDAQ" {
		t.Fatalf("body = %+v", got)
	}
	if res.Status != "stored" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendOmitsEmptyLiA(t *testing.T) {
	var raw string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		return jsonResponse(http.StatusNoContent, ""), nil
	})}
	res, err := Send(context.Background(), client, "http://example.com/h", "u1", protocol.CredentialBundle{LiAt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "li_a\"") || res.Status != "ok" {
		t.Fatalf("body = %s result = %+v", raw, res)
	}
}

func TestSendReturnsHandoffFailed(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, "upstream down"), nil
	})}
	_, err := Send(context.Background(), client, "http://example.com/h", "u1", protocol.CredentialBundle{LiAt: "x"})
	if protocol.CodeOf(err) != protocol.CodeHandoffFailed {
		t.Fatalf("error = %v; want HANDOFF_FAILED", err)
	}
}

func TestSendValidates(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		user     string
		bundle   protocol.CredentialBundle
	}{
		{"no endpoint", "", "u1", protocol.CredentialBundle{LiAt: "x"}},
		{"no user", "http://e", "", protocol.CredentialBundle{LiAt: "x"}},
		{"no li_at", "http://e", "u1", protocol.CredentialBundle{LiA: "x"}},
		{"header injection", "http://e", "u1", protocol.CredentialBundle{LiAt: "x;\r\nSet-Cookie: y"}},
		{"too long", "http://e", "u1", protocol.CredentialBundle{LiAt: strings.Repeat("a", maxCookieLen+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Send(context.Background(), nil, tt.endpoint, tt.user, tt.bundle)
			if protocol.CodeOf(err) != protocol.CodeValidation {
				t.Fatalf("error = %v; want VALIDATION", err)
			}
		})
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), "../etc/passwd", protocol.CredentialBundle{LiAt: "one"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(context.Background(), "../etc/passwd", protocol.CredentialBundle{LiAt: "two", LiA: "a"}); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}
	got, err := s.Load("../etc/passwd")
	if err != nil || got.LiAt != "two" || got.LiA != "a" {
		t.Fatalf("Load() = %+v, %v", got, err)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.path("../etc/passwd"))
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("mode = %o; want 600", perm)
		}
	}
	if _, err := s.Load("nobody"); protocol.CodeOf(err) != protocol.CodeSessionNotFound {
		t.Fatalf("Load(missing) error = %v", err)
	}
}

func TestForwarderUsesSend(t *testing.T) {
	called := false
	f := &Forwarder{Endpoint: "http://upstream/creds", Client: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = r.URL.Path == "/creds/u1"
		return jsonResponse(http.StatusOK, `{"status":"ok"}`), nil
	})}}
	if err := f.Save(context.Background(), "u1", protocol.CredentialBundle{LiAt: "x"}); err != nil || !called {
		t.Fatalf("Save() = %v called=%v", err, called)
	}
}
