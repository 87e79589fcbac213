// Package rpc is a minimal JSON client for the framework's RPC daemon.
// It covers authentication, health probing, and command execution
// through throwaway RPC consoles.
package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Options configures a Client.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	// SkipVerify disables certificate verification. The daemon ships
	// with a self-signed certificate, so SSL setups usually need it.
	SkipVerify bool
	Timeout    time.Duration // per-request ceiling
}

// Client talks to one RPC daemon. It logs in lazily and reuses the
// session token across calls. Safe for concurrent use.
type Client struct {
	opts  Options
	httpc *http.Client

	mu    sync.Mutex
	token string
	seq   int
}

// New creates a client for the daemon at o.Host:o.Port.
func New(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	tr := &http.Transport{}
	if o.SSL && o.SkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		opts:  o,
		httpc: &http.Client{Timeout: o.Timeout, Transport: tr},
	}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is a JSON-RPC error returned by the daemon.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Login authenticates and stores the session token for later calls.
func (c *Client) Login(ctx context.Context) error {
	res, err := c.call(ctx, "auth.login", []any{c.opts.Username, c.opts.Password})
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if res["result"] != "success" {
		return fmt.Errorf("authentication rejected for %s", c.opts.Username)
	}
	token, _ := res["token"].(string)
	if token == "" {
		return fmt.Errorf("no token in login response")
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// Logout invalidates the session token.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	_, err := c.call(ctx, "auth.logout", []any{token})
	return err
}

// Call invokes an authenticated method, logging in first if needed. The
// session token is prepended to params per the daemon's convention.
func (c *Client) Call(ctx context.Context, method string, params ...any) (map[string]any, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}
	return c.call(ctx, method, append([]any{token}, params...))
}

// Healthy probes the daemon without authenticating. A 401 still counts:
// the server is up, it just wants credentials.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.post(ctx, "core.version", []any{})
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// Version reports the framework version the daemon is running.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.Call(ctx, "core.version")
	if err != nil {
		return "", err
	}
	v, _ := res["version"].(string)
	if v == "" {
		return "", fmt.Errorf("no version in response")
	}
	return v, nil
}

// ExecuteCommand runs one command through a throwaway RPC console and
// returns its accumulated output. The console's busy flag drives the
// read loop: output is collected until the console reports idle twice
// with nothing new.
func (c *Client) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := c.Call(ctx, "console.create")
	if err != nil {
		return "", err
	}
	id := created["id"]
	if id == nil {
		return "", fmt.Errorf("no console id in response")
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		c.Call(dctx, "console.destroy", id)
	}()

	// Drain the banner the fresh console prints.
	if _, err := c.Call(ctx, "console.read", id); err != nil {
		return "", err
	}
	if _, err := c.Call(ctx, "console.write", id, command+"\n"); err != nil {
		return "", err
	}

	var b strings.Builder
	idle := 0
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case <-ticker.C:
		}
		res, err := c.Call(ctx, "console.read", id)
		if err != nil {
			return b.String(), err
		}
		data, _ := res["data"].(string)
		if data != "" {
			b.WriteString(data)
		}
		busy, _ := res["busy"].(bool)
		if busy {
			idle = 0
			continue
		}
		if data == "" {
			idle++
			if b.Len() > 0 || idle >= 2 {
				return b.String(), nil
			}
		}
	}
}

// call posts one request and decodes the JSON-RPC envelope.
func (c *Client) call(ctx context.Context, method string, params []any) (map[string]any, error) {
	resp, err := c.post(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calling %s: unexpected status %s", method, resp.Status)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	var result map[string]any
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &result); err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, method string, params []any) (*http.Response, error) {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      id,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpc.Do(req)
}

func (c *Client) url() string {
	scheme := "http"
	if c.opts.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api/1.0/rpc", scheme, c.opts.Host, c.opts.Port)
}
