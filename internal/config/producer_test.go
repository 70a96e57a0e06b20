package config

import (
	"flag"
	"testing"
	"time"
)

func TestProducerConfigEnvAndFlags(t *testing.T) {
	t.Setenv("SERVER_URL", "ws://relay:8080/videostream")
	t.Setenv("FRAME_INTERVAL", "100ms")
	t.Setenv("STREAM_ID", "cam-1")
	t.Setenv("LOOP", "false")

	var c ProducerConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.BindFlags(fs)
	if c.ServerURL != "ws://relay:8080/videostream" || c.Interval != 100*time.Millisecond {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.StreamID != "cam-1" || c.Loop {
		t.Fatalf("env not applied: %+v", c)
	}

	if err := fs.Parse([]string{"--frames-dir", "/tmp/frames", "--stream-id", "cam-2"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.FramesDir != "/tmp/frames" || c.StreamID != "cam-2" {
		t.Fatalf("flags not applied: %+v", c)
	}
}

func TestProducerConfigDefaultStreamID(t *testing.T) {
	var c ProducerConfig
	c.BindFlags(flag.NewFlagSet("test", flag.ContinueOnError))
	if c.StreamID == "" {
		t.Fatalf("expected a default stream id")
	}
	if c.Interval != 50*time.Millisecond {
		t.Fatalf("interval = %v", c.Interval)
	}
}
