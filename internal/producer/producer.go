package producer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/nutribin/feedrelay/internal/config"
	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/reconnect"
	"github.com/nutribin/feedrelay/internal/relay"
)

// ErrNoFrames is returned when the frames directory holds no JPEG files.
var ErrNoFrames = errors.New("no frames found")

// Frame is the video-frame payload sent by the producer.
type Frame struct {
	ID        string `json:"id"`
	Frame     string `json:"frame"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// LoadFrames returns the sorted JPEG files in dir.
func LoadFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	sort.Strings(files)
	return files, nil
}

// Producer streams frame files to a relay.
type Producer struct {
	cfg   config.ProducerConfig
	files []string
	seq   uint64
	next  int
}

// New validates cfg and loads the frame list.
func New(cfg config.ProducerConfig) (*Producer, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	files, err := LoadFrames(cfg.FramesDir)
	if err != nil {
		return nil, err
	}
	return &Producer{cfg: cfg, files: files}, nil
}

// Run connects to the relay and streams frames until ctx is done or, with
// Loop disabled, every frame has been sent once. Lost connections are
// retried with the reconnect schedule; streaming resumes at the next frame.
func (p *Producer) Run(ctx context.Context) error {
	attempt := 0
	for {
		sent, err := p.session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sent > 0 {
			attempt = 0
		}
		delay := reconnect.Delay(attempt)
		logx.Log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("relay connection lost")
		if err := reconnect.Wait(ctx, attempt); err != nil {
			return err
		}
		attempt++
	}
}

// session runs one connection. It returns a nil error only when the frame
// list has been exhausted with Loop disabled.
func (p *Producer) session(ctx context.Context) (int, error) {
	c, _, err := websocket.Dial(ctx, p.cfg.ServerURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", p.cfg.ServerURL, err)
	}
	defer func() { _ = c.CloseNow() }()
	logx.Log.Info().Str("server_url", p.cfg.ServerURL).Str("stream_id", p.cfg.StreamID).Int("frames", len(p.files)).Msg("connected to relay")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readErr := make(chan error, 1)
	go func() { readErr <- watchStatus(sctx, c) }()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	sent := 0
	for {
		if p.next >= len(p.files) {
			if !p.cfg.Loop {
				_ = c.Close(websocket.StatusNormalClosure, "done")
				return sent, nil
			}
			p.next = 0
		}
		msg, err := p.encode(p.files[p.next])
		if err != nil {
			logx.Log.Warn().Err(err).Str("file", p.files[p.next]).Msg("skipping frame")
			p.next++
			continue
		}
		if err := c.Write(sctx, websocket.MessageText, msg); err != nil {
			return sent, fmt.Errorf("write frame: %w", err)
		}
		p.next++
		sent++

		select {
		case <-sctx.Done():
			_ = c.Close(websocket.StatusNormalClosure, "")
			return sent, sctx.Err()
		case err := <-readErr:
			return sent, fmt.Errorf("read: %w", err)
		case <-ticker.C:
		}
	}
}

func (p *Producer) encode(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p.seq++
	return relay.Encode(relay.KindVideoFrame, Frame{
		ID:        p.cfg.StreamID,
		Frame:     base64.StdEncoding.EncodeToString(b),
		Seq:       p.seq,
		Timestamp: time.Now().UnixMilli(),
	})
}

// watchStatus drains inbound messages, logging stream-status changes, until
// the connection fails.
func watchStatus(ctx context.Context, c *websocket.Conn) error {
	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			return err
		}
		var env relay.Envelope
		if err := json.Unmarshal(b, &env); err != nil || env.Type != relay.KindStreamStatus {
			continue
		}
		var st relay.StreamStatus
		if err := json.Unmarshal(env.Data, &st); err == nil {
			logx.Log.Debug().Bool("active", st.Active).Msg("stream status")
		}
	}
}
