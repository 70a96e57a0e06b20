package ctrlsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nutribin/feedrelay/internal/hub"
	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/relay"
	"github.com/nutribin/feedrelay/internal/serverstate"
)

// Options tune the WebSocket endpoint.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows
	// any origin; empty only allows same-host requests.
	AllowedOrigins  []string
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// WSHandler accepts producer and viewer connections and feeds their events
// into rl. Every connection gets a fresh UUID registered in h.
func WSHandler(rl *relay.Relay, h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	acceptOpts := acceptOptions(opts.AllowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, r, acceptOpts)
		if err != nil {
			logx.Log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket accept")
			return
		}
		if opts.MaxMessageBytes > 0 {
			c.SetReadLimit(opts.MaxMessageBytes)
		}

		ctx, cancel := context.WithCancel(r.Context())
		id := uuid.NewString()
		var conn *hub.Conn
		logx.Log.Debug().Str("conn_id", id).Str("remote_addr", r.RemoteAddr).Msg("accepted")
		rl.OnConnect(id, func() { conn = h.Add(id) })

		done := make(chan struct{})
		go func() {
			defer close(done)
			writeLoop(ctx, c, conn, opts.WriteTimeout)
		}()

		defer func() {
			cancel()
			h.Remove(id)
			rl.OnDisconnect(id)
			<-done
			_ = c.Close(websocket.StatusNormalClosure, "")
		}()

		readLoop(ctx, c, rl, id)
	}
}

func readLoop(ctx context.Context, c *websocket.Conn, rl *relay.Relay, id string) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			logDisconnect(id, err)
			return
		}
		if typ == websocket.MessageBinary {
			// Raw binary frames carry no envelope and can never be a
			// valid video-frame object.
			rl.OnVideoFrame(id, nil)
			continue
		}
		var env relay.Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
			logx.Log.Debug().Str("conn_id", id).Int("size", len(msg)).Msg("ignoring message without envelope")
			continue
		}
		rl.Dispatch(id, env)
	}
}

func writeLoop(ctx context.Context, c *websocket.Conn, conn *hub.Conn, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Outbound():
			if !ok {
				// Queue closed by the hub without the handler exiting
				// first: the server is shutting down.
				if ctx.Err() == nil {
					_ = c.Close(websocket.StatusGoingAway, "server shutting down")
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := c.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				logx.Log.Debug().Err(err).Str("conn_id", conn.ID).Msg("write failed")
				_ = c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func logDisconnect(id string, err error) {
	var ce websocket.CloseError
	switch {
	case errors.As(err, &ce):
		lvl := logx.Log.Debug()
		if ce.Code != websocket.StatusNormalClosure && ce.Code != websocket.StatusGoingAway {
			lvl = logx.Log.Warn()
		}
		lvl.Str("conn_id", id).Int("code", int(ce.Code)).Str("reason", ce.Reason).Msg("connection closed")
	case errors.Is(err, context.Canceled):
		logx.Log.Debug().Str("conn_id", id).Msg("connection canceled")
	default:
		logx.Log.Debug().Err(err).Str("conn_id", id).Msg("connection closed")
	}
}

// acceptOptions maps CORS style origins onto websocket origin patterns,
// which match on host only.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range origins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				o = u.Host
			}
		}
		opts.OriginPatterns = append(opts.OriginPatterns, o)
	}
	return opts
}
