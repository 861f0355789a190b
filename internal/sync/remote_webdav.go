package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"linkhoard/internal/models"
)

const snapshotFileName = "linkhoard-snapshot.json"

// WebDAVStore keeps the snapshot as a single JSON file on a WebDAV
// share. Plain GET/PUT with basic auth is all the protocol this
// needs; collection listing and locking stay out of scope.
type WebDAVStore struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

func NewWebDAVStore(endpoint, username, password string, timeout time.Duration) *WebDAVStore {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &WebDAVStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (w *WebDAVStore) snapshotURL() string {
	return w.endpoint + "/" + snapshotFileName
}

// Fetch downloads the remote snapshot. A missing file is nil, not an
// error: it just means nothing was uploaded yet.
func (w *WebDAVStore) Fetch(ctx context.Context) (*models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.snapshotURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	w.auth(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get snapshot: status %d", resp.StatusCode)
	}

	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Upload overwrites the remote snapshot (last writer wins).
func (w *WebDAVStore) Upload(ctx context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, w.snapshotURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	w.auth(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("put snapshot: status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebDAVStore) auth(req *http.Request) {
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}
}
