package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Store persists a user's credential bundle.
type Store interface {
	Save(ctx context.Context, userID string, bundle protocol.CredentialBundle) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore writes one owner-only JSON file per user, replacing atomically.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

type storedBundle struct {
	UserID   string    `json:"user_id"`
	LiAt     string    `json:"li_at"`
	LiA      string    `json:"li_a,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, unsafeName.ReplaceAllString(userID, "_")+".json")
}

func (s *FileStore) Save(ctx context.Context, userID string, bundle protocol.CredentialBundle) error {
	if err := Validate(bundle); err != nil {
		return err
	}
	data, err := json.MarshalIndent(storedBundle{UserID: userID, LiAt: bundle.LiAt, LiA: bundle.LiA, StoredAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".handoff-*")
	if err != nil {
		return protocol.NewError(protocol.CodeHandoffFailed, "create credential file", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return protocol.NewError(protocol.CodeHandoffFailed, "chmod credential file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return protocol.NewError(protocol.CodeHandoffFailed, "write credential file", err)
	}
	if err := tmp.Close(); err != nil {
		return protocol.NewError(protocol.CodeHandoffFailed, "close credential file", err)
	}
	if err := os.Rename(tmp.Name(), s.path(userID)); err != nil {
		return protocol.NewError(protocol.CodeHandoffFailed, "store credential file", err)
	}
	return nil
}

// Load returns a stored bundle. Used by operators and tests.
func (s *FileStore) Load(userID string) (protocol.CredentialBundle, error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.CredentialBundle{}, protocol.NewError(protocol.CodeSessionNotFound, "no stored credentials", err)
		}
		return protocol.CredentialBundle{}, err
	}
	var sb storedBundle
	if err := json.Unmarshal(data, &sb); err != nil {
		return protocol.CredentialBundle{}, fmt.Errorf("decode stored credentials: %w", err)
	}
	return protocol.CredentialBundle{LiAt: sb.LiAt, LiA: sb.LiA}, nil
}

// Forwarder relays bundles to an upstream persistence endpoint.
type Forwarder struct {
	Endpoint string
	Client   *http.Client
}

func (f *Forwarder) Save(ctx context.Context, userID string, bundle protocol.CredentialBundle) error {
	_, err := Send(ctx, f.Client, f.Endpoint, userID, bundle)
	return err
}
