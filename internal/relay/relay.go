package relay

import (
	"sort"
	"sync"

	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/metrics"
	"github.com/nutribin/feedrelay/internal/serverstate"
)

// Relay tracks which connections are producing video and rebroadcasts
// validated payloads to every connection known to its hub.
//
// All handlers run under a single lock so a producer-set transition and the
// stream-status broadcast it triggers are never interleaved with another
// event. Hub delivery does not block, so the lock is never held waiting on a
// peer. The producer count is mirrored to serverstate after the lock is
// released, since that store may be remote.
type Relay struct {
	hub Hub

	mu        sync.Mutex
	producers map[string]struct{}
	version   uint64

	// mirrorMu orders serverstate writes; mirrored is the newest version
	// written so a late writer never replaces a newer count.
	mirrorMu sync.Mutex
	mirrored uint64
}

// streamChange is a producer count captured under mu.
type streamChange struct {
	version   uint64
	producers int
}

// New returns a Relay that delivers through hub.
func New(hub Hub) *Relay {
	return &Relay{hub: hub, producers: make(map[string]struct{})}
}

// OnConnect sends the current stream status to the new connection only.
// register, when non-nil, adds the connection to the hub under the relay
// lock, so the status is the first message queued for it.
func (r *Relay) OnConnect(id string, register func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if register != nil {
		register()
	}
	active := len(r.producers) > 0
	logx.Log.Info().Str("conn_id", id).Bool("active", active).Msg("client connected")
	r.unicastStatus(id, active)
}

// OnDisconnect forgets id. When the last producer leaves, every remaining
// connection is told the stream went inactive. Calling it for a connection
// that never produced, or twice for the same id, does nothing.
func (r *Relay) OnDisconnect(id string) {
	var change streamChange
	defer func() { r.mirror(change) }()
	r.mu.Lock()
	defer r.mu.Unlock()
	logx.Log.Info().Str("conn_id", id).Msg("client disconnected")
	if _, ok := r.producers[id]; !ok {
		return
	}
	delete(r.producers, id)
	change = r.producersChanged()
	if len(r.producers) == 0 {
		r.broadcastStatus(false)
	}
}

// OnVideoFrame registers id as a producer and rebroadcasts raw as a stream
// message when it is a valid frame. Registration happens before validation:
// a connection becomes a producer as soon as it attempts to send a frame.
func (r *Relay) OnVideoFrame(id string, raw []byte) {
	if id == "" {
		metrics.RecordInvalid(KindVideoFrame)
		logx.Log.Error().Str("kind", KindVideoFrame).Msg("frame dispatched without connection id")
		return
	}

	var change streamChange
	defer func() { r.mirror(change) }()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.producers[id]; !ok {
		r.producers[id] = struct{}{}
		change = r.producersChanged()
		logx.Log.Info().Str("conn_id", id).Int("producers", len(r.producers)).Msg("producer registered")
		if len(r.producers) == 1 {
			r.broadcastStatus(true)
		}
	}

	frame, err := DecodeVideoFrame(raw)
	if err != nil {
		metrics.RecordInvalid(KindVideoFrame)
		logx.Log.Warn().Err(err).Str("conn_id", id).Str("kind", KindVideoFrame).Int("size", len(raw)).Msg("invalid payload")
		return
	}
	r.broadcast(KindStream, frame.Raw)
}

// OnClassification rebroadcasts raw when it carries an image string and/or
// a predictions array. It never touches the producer set.
func (r *Relay) OnClassification(id string, raw []byte) {
	c, err := DecodeClassification(raw)
	if err != nil {
		metrics.RecordInvalid(KindClassification)
		logx.Log.Warn().Err(err).Str("conn_id", id).Str("kind", KindClassification).Int("size", len(raw)).Msg("invalid payload")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast(KindClassification, c.Raw)
}

// Dispatch routes an inbound envelope to its handler. Unknown kinds are
// ignored.
func (r *Relay) Dispatch(id string, env Envelope) {
	switch env.Type {
	case KindVideoFrame:
		r.OnVideoFrame(id, env.Data)
	case KindClassification:
		r.OnClassification(id, env.Data)
	default:
		logx.Log.Debug().Str("conn_id", id).Str("kind", env.Type).Msg("ignoring unknown message kind")
	}
}

// Active reports whether at least one producer is connected.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers) > 0
}

// ProducerCount returns the number of registered producers.
func (r *Relay) ProducerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// IsProducer reports whether id is a registered producer.
func (r *Relay) IsProducer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[id]
	return ok
}

// Producers returns the registered producer ids in sorted order.
func (r *Relay) Producers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.producers))
	for id := range r.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// producersChanged updates the gauge and captures the count for mirror.
// Callers hold r.mu.
func (r *Relay) producersChanged() streamChange {
	metrics.SetProducers(len(r.producers))
	r.version++
	return streamChange{version: r.version, producers: len(r.producers)}
}

// mirror writes c to serverstate unless a newer change was already written.
// It must be called without r.mu held.
func (r *Relay) mirror(c streamChange) {
	if c.version == 0 {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()
	if c.version <= r.mirrored {
		return
	}
	r.mirrored = c.version
	serverstate.SetStream(c.producers)
}

func (r *Relay) unicastStatus(id string, active bool) {
	b, err := Encode(KindStreamStatus, StreamStatus{Active: active})
	if err != nil {
		logx.Log.Error().Err(err).Msg("encode stream status")
		return
	}
	r.hub.Send(id, b)
}

func (r *Relay) broadcastStatus(active bool) {
	metrics.RecordStatusBroadcast(active)
	logx.Log.Info().Bool("active", active).Msg("stream status changed")
	r.broadcast(KindStreamStatus, StreamStatus{Active: active})
}

func (r *Relay) broadcast(kind string, data any) {
	b, err := Encode(kind, data)
	if err != nil {
		logx.Log.Error().Err(err).Str("kind", kind).Msg("encode broadcast")
		return
	}
	n := r.hub.Broadcast(b)
	if kind != KindStreamStatus {
		metrics.RecordRelayed(kind)
	}
	logx.Log.Trace().Str("kind", kind).Int("recipients", n).Msg("broadcast")
}
