// Package fileclient is the editor-side interface to the remote file
// service: load, metadata probe, save. Every file-I/O failure is converted
// into a typed outcome at this boundary so callers never see raw transport
// errors.
//
// Failure taxonomy:
//
//   - ErrNotFound: the file does not exist; callers fall back to a blank
//     template scene.
//   - *MalformedError: the remote content cannot be parsed; carries the
//     server's line/column or field detail verbatim for display.
//   - *RejectedError: the server validated the payload and refused it;
//     non-retryable, shown to the user verbatim.
//   - anything else: transient (network, timeout); the next scheduler tick
//     retries implicitly.
package fileclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/drawfile/snapshot"
)

// ErrNotFound is returned by Load when the remote file does not exist.
var ErrNotFound = errors.New("fileclient: file not found")

// MalformedError is a load failure caused by unparseable remote content.
type MalformedError struct {
	Message  string
	Line     int
	Column   int
	Context  string
	Problems []string
}

func (e *MalformedError) Error() string { return e.Message }

// RejectedError is a save refused by server-side validation.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// Metadata is the result of the lightweight existence+hash probe. A probe
// against an unreachable service yields Reachable=false instead of an error:
// polling failures must not interrupt editing.
type Metadata struct {
	Reachable  bool
	Exists     bool
	Hash       string
	ModifiedAt int64
}

// LoadResult is a successfully loaded scene with its remote identity.
type LoadResult struct {
	Scene    *snapshot.Scene
	Hash     string
	Modified int64
}

// SaveResult is the remote identity after a successful save.
type SaveResult struct {
	Hash     string
	Modified int64
}

// Client talks to one file service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Client. If httpClient is nil, a default with a 10s timeout
// is used.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

// Load fetches and parses the remote scene.
func (c *Client) Load(ctx context.Context, path string) (*LoadResult, error) {
	u := c.baseURL + "/api/load-file?filepath=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fileclient: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fileclient: load: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusBadRequest:
		return nil, decodeMalformed(resp.Body)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fileclient: load: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Data     *snapshot.Scene `json:"data"`
		Hash     string          `json:"hash"`
		Modified int64           `json:"modified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("fileclient: decode load response: %w", err)
	}
	if payload.Data == nil {
		return nil, fmt.Errorf("fileclient: load response missing data")
	}
	return &LoadResult{Scene: payload.Data, Hash: payload.Hash, Modified: payload.Modified}, nil
}

// Metadata probes remote existence and hash. Never returns an error.
func (c *Client) Metadata(ctx context.Context, path string) Metadata {
	u := c.baseURL + "/api/file-info?filepath=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Metadata{}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("fileclient: metadata probe failed", "path", path, "error", err)
		return Metadata{}
	}
	defer resp.Body.Close()

	// Older services answer 404 for absent files; that still means
	// "reachable, does not exist".
	if resp.StatusCode == http.StatusNotFound {
		return Metadata{Reachable: true}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("fileclient: metadata probe rejected", "path", path, "status", resp.StatusCode)
		return Metadata{}
	}

	var payload struct {
		Exists   bool   `json:"exists"`
		Hash     string `json:"hash"`
		Modified int64  `json:"modified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Metadata{}
	}
	return Metadata{
		Reachable:  true,
		Exists:     payload.Exists,
		Hash:       payload.Hash,
		ModifiedAt: payload.Modified,
	}
}

// Save transmits the scene. forceBackup asks the server to bypass its backup
// cooldown (manual saves, conflict overwrites).
func (c *Client) Save(ctx context.Context, path string, scene *snapshot.Scene, forceBackup bool) (*SaveResult, error) {
	body, err := json.Marshal(map[string]any{
		"filepath":     path,
		"data":         scene,
		"force_backup": forceBackup,
	})
	if err != nil {
		return nil, fmt.Errorf("fileclient: marshal save request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/save-file", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fileclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fileclient: save: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Success  bool   `json:"success"`
		Message  string `json:"message"`
		Hash     string `json:"hash"`
		Modified int64  `json:"modified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("fileclient: decode save response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || (!payload.Success && resp.StatusCode < 500) {
		return nil, &RejectedError{Message: payload.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fileclient: save: status %d: %s", resp.StatusCode, payload.Message)
	}

	c.logger.Debug("fileclient: saved",
		"path", path, "hash", payload.Hash, "duration_ms", time.Since(start).Milliseconds())
	return &SaveResult{Hash: payload.Hash, Modified: payload.Modified}, nil
}

// SaveDetached fires a save without waiting for the response. Used on page
// unload, where the host may terminate before any reply arrives: the
// guarantee is of attempt, not completion.
func (c *Client) SaveDetached(path string, scene *snapshot.Scene) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.Save(ctx, path, scene, false); err != nil {
			c.logger.Warn("fileclient: detached save failed", "path", path, "error", err)
		}
	}()
}

func decodeMalformed(r io.Reader) *MalformedError {
	var payload struct {
		Error    string   `json:"error"`
		Line     int      `json:"line"`
		Column   int      `json:"column"`
		Context  string   `json:"context"`
		Problems []string `json:"problems"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return &MalformedError{Message: "malformed remote content"}
	}
	return &MalformedError{
		Message:  payload.Error,
		Line:     payload.Line,
		Column:   payload.Column,
		Context:  payload.Context,
		Problems: payload.Problems,
	}
}
