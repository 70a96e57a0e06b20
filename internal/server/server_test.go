package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nutribin/feedrelay/internal/api"
	"github.com/nutribin/feedrelay/internal/config"
	"github.com/nutribin/feedrelay/internal/relay"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(s.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

type client struct {
	t *testing.T
	c *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server, path string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, strings.Replace(ts.URL, "http", "ws", 1)+path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return &client{t: t, c: c}
}

func (c *client) send(kind, data string) {
	c.t.Helper()
	msg := `{"type":"` + kind + `","data":` + data + `}`
	if err := c.c.Write(context.Background(), websocket.MessageText, []byte(msg)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) expect(kind, data string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := c.c.Read(ctx)
	if err != nil {
		c.t.Fatalf("read (want %s %s): %v", kind, data, err)
	}
	var env relay.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.t.Fatalf("decode %s: %v", b, err)
	}
	if env.Type != kind || string(env.Data) != data {
		c.t.Fatalf("got %s %s; want %s %s", env.Type, env.Data, kind, data)
	}
}

// expectNothing asserts no message arrives within a short window. The read
// is abandoned through its context, which closes the connection, so it must
// be the last check on c.
func (c *client) expectNothing() {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, b, err := c.c.Read(ctx); err == nil {
		c.t.Fatalf("unexpected message %s", b)
	}
}

func (c *client) close() {
	_ = c.c.Close(websocket.StatusNormalClosure, "")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayScenario(t *testing.T) {
	s, ts := newTestServer(t, config.ServerConfig{})
	const (
		inactive = `{"active":false}`
		active   = `{"active":true}`
	)

	a := dial(t, ts, "/videostream")
	a.expect(relay.KindStreamStatus, inactive)
	b := dial(t, ts, "/videostream")
	b.expect(relay.KindStreamStatus, inactive)
	watcher := dial(t, ts, "/videostream")
	watcher.expect(relay.KindStreamStatus, inactive)

	a.send(relay.KindVideoFrame, `{"id":"1","frame":"xyz"}`)
	for _, c := range []*client{a, b, watcher} {
		c.expect(relay.KindStreamStatus, active)
		c.expect(relay.KindStream, `{"id":"1","frame":"xyz"}`)
	}

	b.send(relay.KindVideoFrame, `{"frame":"abc"}`)
	waitFor(t, "b registered", func() bool { return s.Relay.ProducerCount() == 2 })

	// The classification acts as a marker: had b's invalid frame been
	// relayed, it would arrive first.
	watcher.send(relay.KindClassification, `{"predictions":[0.1,0.9]}`)
	for _, c := range []*client{a, b, watcher} {
		c.expect(relay.KindClassification, `{"predictions":[0.1,0.9]}`)
	}

	a.close()
	waitFor(t, "a removed", func() bool { return s.Relay.ProducerCount() == 1 })

	watcher.send(relay.KindClassification, `{"image":"img"}`)
	watcher.expect(relay.KindClassification, `{"image":"img"}`)

	b.close()
	watcher.expect(relay.KindStreamStatus, inactive)
	waitFor(t, "hub cleanup", func() bool { return s.Hub.Count() == 1 })

	watcher.send(relay.KindClassification, `{}`)
	watcher.expectNothing()
}

func TestStateEndpoint(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{})
	p := dial(t, ts, "/videostream")
	p.expect(relay.KindStreamStatus, `{"active":false}`)
	p.send(relay.KindVideoFrame, `{"id":"cam","frame":"f"}`)
	p.expect(relay.KindStreamStatus, `{"active":true}`)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var st api.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.StreamActive || st.Producers != 1 || st.Connections != 1 {
		t.Fatalf("state = %+v", st)
	}
}

func TestCustomWSPath(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{WSPath: "/live"})
	c := dial(t, ts, "/live")
	c.expect(relay.KindStreamStatus, `{"active":false}`)
}

func TestMetricsEndpointDefaultPort(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{Port: 8080, MetricsAddr: ":8080"})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "feedrelay_connections") {
		t.Fatalf("relay metrics missing from /metrics")
	}
}

func TestMetricsEndpointSeparatePort(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{Port: 8080, MetricsAddr: ":9090"})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestViewerPage(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{WSPath: "/live"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected text/html content type, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `content="/live"`) {
		t.Fatalf("viewer page does not reference the ws path")
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	_, ts := newTestServer(t, config.ServerConfig{AllowedOrigins: []string{"https://example.com"}})

	req, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp.Body.Close()
	if ao := resp.Header.Get("Access-Control-Allow-Origin"); ao != "https://example.com" {
		t.Fatalf("expected allowed origin header, got %q", ao)
	}

	req2, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req2.Header.Set("Origin", "https://evil.com")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp2.Body.Close()
	if ao := resp2.Header.Get("Access-Control-Allow-Origin"); ao != "" {
		t.Fatalf("expected no allowed origin header, got %q", ao)
	}
}
