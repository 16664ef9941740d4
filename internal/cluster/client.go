package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dreamware/shardfs/internal/shard"
	"github.com/dreamware/shardfs/internal/storage"
)

// Client talks to a single storage node over HTTP. It implements
// shard.Client and the file commands the front end routes through the
// shard strategy.
type Client struct {
	url         string
	conventions shard.Conventions
	http        *http.Client
}

// ClientOption configures NewClient.
type ClientOption func(*Client)

// WithConventions overrides shard.DefaultConventions.
func WithConventions(c shard.Conventions) ClientOption {
	return func(cl *Client) { cl.conventions = c.Clone() }
}

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(cl *Client) { cl.http = h }
}

// NewClient creates a client for the node at rawURL.
//
// The URL is canonicalized so that two spellings of the same node compare
// equal: scheme and host are lower-cased, the default port is dropped and
// any trailing slash is removed.
func NewClient(rawURL string, opts ...ClientOption) (*Client, error) {
	canonical, err := CanonicalURL(rawURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:         canonical,
		conventions: shard.DefaultConventions(),
		http:        httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CanonicalURL normalizes a node base URL.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse node url %q: %w", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("node url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("node url %q: missing host", rawURL)
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host + strings.TrimRight(u.EscapedPath(), "/"), nil
}

// URL returns the canonical base URL of the node.
func (c *Client) URL() string {
	return c.url
}

// Conventions implements shard.Client.
func (c *Client) Conventions() shard.Conventions {
	return c.conventions.Clone()
}

// GetIdentity implements shard.Client. The returned URL is the client's
// canonical URL, not the address the node reports for itself, so that
// duplicates are detected on the addresses the front end actually uses.
func (c *Client) GetIdentity(ctx context.Context) (shard.Identity, error) {
	var resp IdentityResponse
	if _, err := Do(ctx, c.http, http.MethodGet, c.url+PathIdentity, nil, nil, &resp); err != nil {
		return shard.Identity{}, err
	}
	return shard.Identity{ServerID: resp.ServerID, URL: c.url}, nil
}

func (c *Client) fileURL(path, name string) string {
	return c.url + path + "?" + url.Values{"name": {name}}.Encode()
}

// UploadFile stores content under name on the node.
func (c *Client) UploadFile(ctx context.Context, name string, content []byte, metadata map[string]string) (storage.FileHeader, error) {
	header := http.Header{"Content-Type": {"application/octet-stream"}}
	if len(metadata) > 0 {
		md, err := json.Marshal(metadata)
		if err != nil {
			return storage.FileHeader{}, err
		}
		header.Set(HeaderMetadata, string(md))
	}
	var h storage.FileHeader
	_, err := Do(ctx, c.http, http.MethodPut, c.fileURL(PathFile, name), bytes.NewReader(content), header, &h)
	return h, err
}

// DownloadFile fetches a file's content and header.
func (c *Client) DownloadFile(ctx context.Context, name string) ([]byte, storage.FileHeader, error) {
	var content []byte
	resp, err := Do(ctx, c.http, http.MethodGet, c.fileURL(PathFile, name), nil, nil, &content)
	if err != nil {
		return nil, storage.FileHeader{}, err
	}
	var h storage.FileHeader
	if raw := resp.Header.Get(HeaderFile); raw != "" {
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, storage.FileHeader{}, fmt.Errorf("decode %s header: %w", HeaderFile, err)
		}
	}
	return content, h, nil
}

// DeleteFile removes a file from the node.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	_, err := Do(ctx, c.http, http.MethodDelete, c.fileURL(PathFile, name), nil, nil, nil)
	return err
}

// GetMetadata fetches a file's header.
func (c *Client) GetMetadata(ctx context.Context, name string) (storage.FileHeader, error) {
	var h storage.FileHeader
	_, err := Do(ctx, c.http, http.MethodGet, c.fileURL(PathHeader, name), nil, nil, &h)
	return h, err
}

// BrowseFiles lists a page of the node's files in name order.
func (c *Client) BrowseFiles(ctx context.Context, start, pageSize int) ([]storage.FileHeader, error) {
	return c.list(ctx, url.Values{}, start, pageSize)
}

// SearchPrefix lists a page of the node's files whose names start with
// prefix.
func (c *Client) SearchPrefix(ctx context.Context, prefix string, start, pageSize int) ([]storage.FileHeader, error) {
	return c.list(ctx, url.Values{"prefix": {prefix}}, start, pageSize)
}

func (c *Client) list(ctx context.Context, q url.Values, start, pageSize int) ([]storage.FileHeader, error) {
	q.Set("start", strconv.Itoa(start))
	q.Set("pageSize", strconv.Itoa(pageSize))
	var resp BrowseResponse
	if _, err := Do(ctx, c.http, http.MethodGet, c.url+PathFiles+"?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// GetStats fetches the node's storage statistics.
func (c *Client) GetStats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	_, err := Do(ctx, c.http, http.MethodGet, c.url+PathStats, nil, nil, &stats)
	return stats, err
}
