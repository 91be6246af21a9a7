// Package client talks to the admin API on behalf of upload and session
// tooling. It implements the collaborator interfaces the upload pipeline
// and the activity tracker depend on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/northpine/sitemedia/internal/uploader"
)

// Client is a thin JSON client for the admin API. The zero value is not
// usable; construct with New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a bearer token and returns a client
// authenticated with it.
func Login(ctx context.Context, baseURL, email, password string, opts ...Option) (*Client, error) {
	c := New(baseURL, "", opts...)

	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return c, nil
}

// IssueUploadCredential requests a signed single-object upload grant.
func (c *Client) IssueUploadCredential(ctx context.Context, req uploader.CredentialRequest) (*uploader.Credential, error) {
	var cred uploader.Credential
	err := c.do(ctx, http.MethodPost, "/api/v1/uploads/credential", req, &cred)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, &uploader.CredentialError{StatusCode: se.code, Message: se.message}
		}
		return nil, err
	}
	return &cred, nil
}

// UpsertHeroImage writes the hero pointer row for a page.
func (c *Client) UpsertHeroImage(ctx context.Context, page string, rec uploader.HeroRecord) error {
	body := map[string]any{
		"publicUrl":  rec.PublicURL,
		"storageKey": rec.StorageKey,
		"width":      rec.Width,
		"height":     rec.Height,
		"fileSize":   rec.FileSize,
	}
	return c.do(ctx, http.MethodPut, "/api/v1/hero/"+url.PathEscape(page), body, nil)
}

// SetProductImage attaches an uploaded image URL to a product.
func (c *Client) SetProductImage(ctx context.Context, productID, imageURL string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/products/"+url.PathEscape(productID)+"/image", map[string]string{
		"imageUrl": imageURL,
	}, nil)
}

// SignOut tells the server the session ended. Token invalidation is local;
// the call is best effort bookkeeping on the server side.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api responded %d: %s", e.code, e.message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return string(raw)
}
