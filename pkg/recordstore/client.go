// Package recordstore provides a client for the versioned record store that
// holds checkpoint metadata and artifacts.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the record store operations used by the checkpoint logger.
type Client interface {
	// ResolveCollection resolves or creates the collection at path.
	// Re-resolving an existing path is a no-op on the server side.
	ResolveCollection(ctx context.Context, path string) (*Collection, error)
	// CreateRecord creates a data record in the collection with the given
	// metadata document and lineage pointers.
	CreateRecord(ctx context.Context, collectionID string, req CreateRecordRequest) (*Record, error)
	// UpdateRecord replaces the metadata document of an existing record.
	UpdateRecord(ctx context.Context, recordID string, metadata map[string]any) (*Record, error)
	// UploadFile attaches the file at path to an existing record.
	UploadFile(ctx context.Context, recordID, path string) (*Record, error)
	// GetRecord fetches a record with its metadata and artifact state.
	GetRecord(ctx context.Context, recordID string) (*Record, error)
	// FindRecordByTitle looks up a record by exact title within a collection.
	FindRecordByTitle(ctx context.Context, collectionID, title string) (*Record, error)
}

// Option configures the record store client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *httpClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request throttle (5 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a record store client authenticated with token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// doJSON issues a single request with a JSON body and decodes a JSON
// response into out. Retry policy lives with the caller; the client never
// retries on its own.
func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "recordstore: rate limit")
	}

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "recordstore: marshal request")
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return eris.Wrap(err, "recordstore: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "recordstore: %s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "recordstore: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return eris.Wrapf(err, "recordstore: decode %s response", path)
		}
	}
	return nil
}

func (c *httpClient) ResolveCollection(ctx context.Context, path string) (*Collection, error) {
	var coll Collection
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/collections", map[string]string{"path": path}, &coll)
	if err != nil {
		return nil, err
	}
	return &coll, nil
}

func (c *httpClient) CreateRecord(ctx context.Context, collectionID string, req CreateRecordRequest) (*Record, error) {
	var rec Record
	path := fmt.Sprintf("/api/v1/collections/%s/records", url.PathEscape(collectionID))
	if err := c.doJSON(ctx, http.MethodPost, path, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *httpClient) UpdateRecord(ctx context.Context, recordID string, metadata map[string]any) (*Record, error) {
	var rec Record
	path := fmt.Sprintf("/api/v1/records/%s", url.PathEscape(recordID))
	body := map[string]any{"metadata": metadata}
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *httpClient) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	var rec Record
	path := fmt.Sprintf("/api/v1/records/%s", url.PathEscape(recordID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *httpClient) FindRecordByTitle(ctx context.Context, collectionID, title string) (*Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/records?title=%s",
		url.PathEscape(collectionID), url.QueryEscape(title))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Records) == 0 {
		return nil, &NotFoundError{What: fmt.Sprintf("record titled %q", title)}
	}
	return &out.Records[0], nil
}

func (c *httpClient) UploadFile(ctx context.Context, recordID, path string) (*Record, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "recordstore: rate limit")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "recordstore: open artifact %s", path)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	endpoint := fmt.Sprintf("%s/api/v1/records/%s/file", c.baseURL, url.PathEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, pr)
	if err != nil {
		return nil, eris.Wrap(err, "recordstore: build upload request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "recordstore: upload %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "recordstore: read upload response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, eris.Wrap(err, "recordstore: decode upload response")
	}
	return &rec, nil
}
