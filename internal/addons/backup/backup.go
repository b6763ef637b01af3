// Package backup implements the backup-blob add-on: opaque storage for a
// user's exported sync archive. It never decides whether a user is
// entitled to back up — the membership-tier gate is a collaborator
// concern (spec Non-goals).
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/klient"
)

// Store puts and gets a user's backup blob by an opaque reference.
type Store interface {
	Put(ctx context.Context, userID int64, blob []byte) (ref string, err error)
	Get(ctx context.Context, userID int64, ref string) ([]byte, error)
}

// LocalStore writes backups under a local directory, one file per ref.
// Used when no archive endpoint is configured (development / single-node).
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Put(_ context.Context, userID int64, blob []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create dir: %w", err)
	}

	ref := ulid.Make().String()
	path := s.path(userID, ref)

	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", fmt.Errorf("backup: write blob: %w", err)
	}

	return ref, nil
}

func (s *LocalStore) Get(_ context.Context, userID int64, ref string) ([]byte, error) {
	b, err := os.ReadFile(s.path(userID, ref))
	if err != nil {
		return nil, fmt.Errorf("backup: read blob: %w", err)
	}

	return b, nil
}

func (s *LocalStore) path(userID int64, ref string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d-%s.blob", userID, ref))
}

// HTTPStore proxies puts and gets to an operator-configured archive
// service via klient.
type HTTPStore struct {
	client   *klient.Client
	endpoint string
}

func NewHTTPStore(endpoint string) (*HTTPStore, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("backup: create http client: %w", err)
	}

	return &HTTPStore{client: client, endpoint: endpoint}, nil
}

func (s *HTTPStore) Put(ctx context.Context, userID int64, blob []byte) (string, error) {
	ref := ulid.Make().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/%d/%s", s.endpoint, userID, ref), bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("backup: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("backup: put blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("backup: archive service returned %d", resp.StatusCode)
	}

	return ref, nil
}

func (s *HTTPStore) Get(ctx context.Context, userID int64, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%d/%s", s.endpoint, userID, ref), nil)
	if err != nil {
		return nil, fmt.Errorf("backup: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backup: get blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backup: archive service returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
