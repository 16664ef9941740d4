package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/shardfs/internal/storage"
	"github.com/google/uuid"
)

// Node HTTP endpoints.
const (
	PathHealth   = "/health"
	PathIdentity = "/identity"
	PathFile     = "/file"
	PathHeader   = "/header"
	PathFiles    = "/files"
	PathStats    = "/stats"
	PathMetrics  = "/metrics"
)

// HeaderFile carries the JSON encoded storage.FileHeader of a downloaded
// file, and HeaderMetadata the JSON encoded metadata of an upload.
const (
	HeaderFile     = "X-Shardfs-File"
	HeaderMetadata = "X-Shardfs-Metadata"
)

// ErrNotFound matches responses with status 404. It also matches
// storage.ErrFileNotFound, so callers can test for a missing file the same
// way whether the store is local or remote.
var ErrNotFound = errors.New("not found")

// IdentityResponse is the body of GET /identity.
type IdentityResponse struct {
	ServerID uuid.UUID `json:"serverId"`
	URL      string    `json:"url,omitempty"`
}

// BrowseResponse is the body of GET /files.
type BrowseResponse struct {
	Files []storage.FileHeader `json:"files"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %s %s: %d: %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("http %s %s: %d", e.Method, e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return e.Code == http.StatusNotFound && (target == ErrNotFound || target == storage.ErrFileNotFound)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Do sends a request and decodes a JSON response into out, unless out is
// nil. Non-2xx responses are returned as *StatusError.
func Do(ctx context.Context, client *http.Client, method, url string, body io.Reader, header http.Header, out any) (*http.Response, error) {
	if client == nil {
		client = httpClient
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var msg ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&msg)
		return resp, &StatusError{Method: method, URL: url, Code: resp.StatusCode, Message: msg.Error}
	}
	if out == nil {
		return resp, nil
	}
	switch v := out.(type) {
	case *[]byte:
		*v, err = io.ReadAll(resp.Body)
	default:
		err = json.NewDecoder(resp.Body).Decode(out)
	}
	if err != nil {
		return resp, fmt.Errorf("decode %s %s: %w", method, url, err)
	}
	return resp, nil
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, code int, err error) {
	WriteJSON(w, code, ErrorResponse{Error: err.Error()})
}
