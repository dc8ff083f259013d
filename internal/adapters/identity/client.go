// Package identity resolves the current user from the practice portal.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	tokens  core.TokenStore

	mu     sync.Mutex
	cached *domain.User
}

func NewClient(baseURL string, tokens core.TokenStore) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
	}
}

// Current fetches the authenticated user. The result is cached until
// Invalidate; the portal is only hit again after a token change.
func (c *Client) Current(ctx context.Context) (*domain.User, error) {
	c.mu.Lock()
	if c.cached != nil {
		u := *c.cached
		c.mu.Unlock()
		return &u, nil
	}
	c.mu.Unlock()

	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("GET /api/me: status %s", resp.Status)
	}

	var u domain.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, nil
	}

	c.mu.Lock()
	c.cached = &u
	c.mu.Unlock()
	return &u, nil
}

// Invalidate drops the cached identity. Called on token change.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
