package config

import (
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
)

// ProducerConfig holds configuration for the reference producer client.
type ProducerConfig struct {
	ServerURL string
	FramesDir string
	StreamID  string
	Interval  time.Duration
	Loop      bool
	LogLevel  string
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags.
func (c *ProducerConfig) BindFlags(fs *flag.FlagSet) {
	c.ServerURL = getEnv("SERVER_URL", "ws://localhost:8080/videostream")
	c.FramesDir = getEnv("FRAMES_DIR", ".")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Interval = 50 * time.Millisecond
	if d, err := time.ParseDuration(getEnv("FRAME_INTERVAL", "")); err == nil {
		c.Interval = d
	}
	c.Loop = getEnv("LOOP", "true") != "false"

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "producer-" + uuid.NewString()[:8]
	}
	c.StreamID = getEnv("STREAM_ID", host)

	fs.StringVar(&c.ServerURL, "server-url", c.ServerURL, "relay websocket url")
	fs.StringVar(&c.FramesDir, "frames-dir", c.FramesDir, "directory of JPEG frames to stream")
	fs.StringVar(&c.StreamID, "stream-id", c.StreamID, "value sent as the id of every frame")
	fs.DurationVar(&c.Interval, "interval", c.Interval, "delay between frames")
	fs.BoolVar(&c.Loop, "loop", c.Loop, "restart from the first frame after the last one")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}
