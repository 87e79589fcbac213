package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testToken = "TEMPTOKEN123"

// fakeDaemon implements just enough of the RPC surface for the client
// tests: login, version, and a single scripted console.
type fakeDaemon struct {
	mu       sync.Mutex
	reads    int
	wrote    string
	destroys int
}

func (d *fakeDaemon) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := func(result any) {
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result, "id": 1})
	}
	fail := func(code int, msg string) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": code, "message": msg},
			"id":      1,
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch req.Method {
	case "auth.login":
		if len(req.Params) != 2 || req.Params[0] != "msf" || req.Params[1] != "secret" {
			fail(401, "Invalid User ID or Password")
			return
		}
		reply(map[string]any{"result": "success", "token": testToken})
	case "core.version":
		if len(req.Params) == 0 || req.Params[0] != testToken {
			fail(401, "Invalid Authentication Token")
			return
		}
		reply(map[string]any{"version": "6.4.55-dev", "ruby": "3.2.2", "api": "1.0"})
	case "console.create":
		reply(map[string]any{"id": "0", "prompt": "msf6 > ", "busy": false})
	case "console.write":
		d.wrote = req.Params[2].(string)
		reply(map[string]any{"wrote": float64(len(d.wrote))})
	case "console.read":
		d.reads++
		switch {
		case d.wrote == "":
			// Banner drain before anything is written.
			reply(map[string]any{"data": "banner\n", "prompt": "msf6 > ", "busy": false})
		case d.reads == 2:
			reply(map[string]any{"data": "Framework: 6.4.55-dev\n", "prompt": "", "busy": true})
		default:
			reply(map[string]any{"data": "", "prompt": "msf6 > ", "busy": false})
		}
	case "console.destroy":
		d.destroys++
		reply(map[string]any{"result": "success"})
	default:
		fail(500, "Unknown API Call "+req.Method)
	}
}

func testClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return New(Options{
		Host:     host,
		Port:     port,
		Username: "msf",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
}

func TestLogin(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	defer ts.Close()

	c := testClient(t, ts)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.token != testToken {
		t.Errorf("token = %q, want %q", c.token, testToken)
	}
}

func TestLogin_Rejected(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	defer ts.Close()

	c := testClient(t, ts)
	c.opts.Password = "wrong"
	if err := c.Login(context.Background()); err == nil {
		t.Fatal("expected error for bad credentials")
	}
}

// Call must log in on demand and prepend the session token.
func TestVersion_LazyLogin(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	defer ts.Close()

	c := testClient(t, ts)
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "6.4.55-dev" {
		t.Errorf("Version = %q, want 6.4.55-dev", v)
	}
}

func TestHealthy(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	c := testClient(t, ts)
	if !c.Healthy(context.Background()) {
		t.Error("Healthy = false for a live server")
	}
	ts.Close()
	if c.Healthy(context.Background()) {
		t.Error("Healthy = true for a closed server")
	}
}

func TestExecuteCommand(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	defer ts.Close()

	c := testClient(t, ts)
	out, err := c.ExecuteCommand(context.Background(), "version", 10*time.Second)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if !strings.Contains(out, "Framework: 6.4.55-dev") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "banner") {
		t.Errorf("banner leaked into output: %q", out)
	}
	if d.wrote != "version\n" {
		t.Errorf("wrote = %q, want version newline-terminated", d.wrote)
	}
	if d.destroys != 1 {
		t.Errorf("destroys = %d, want 1", d.destroys)
	}
}

func TestCall_RPCError(t *testing.T) {
	d := &fakeDaemon{}
	ts := httptest.NewServer(http.HandlerFunc(d.handle))
	defer ts.Close()

	c := testClient(t, ts)
	_, err := c.Call(context.Background(), "module.bogus")
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if !strings.Contains(err.Error(), "Unknown API Call") {
		t.Errorf("err = %v, want daemon message", err)
	}
}
