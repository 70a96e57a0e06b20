package serverstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nutribin/feedrelay/internal/logx"
)

// RedisStore implements Store backed by a Redis instance so dashboards and
// sibling services can read the relay's stream status. Every Store also
// publishes the new state on the channel named by the key.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// DefaultRedisKey is the key holding the JSON encoded State.
const DefaultRedisKey = "feedrelay:state"

// NewRedisStore connects to the given Redis URL and returns a Store.
// The key is reset to the initial state: stream status is process-local and
// must not survive a restart.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	rs := &RedisStore{client: c, key: DefaultRedisKey, timeout: 2 * time.Second}
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b, _ := json.Marshal(State{Status: "not_ready"})
	if err := c.Set(ctx, rs.key, b, 0).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis init state: %w", err)
	}
	return rs, nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// parseRedisURL turns addr into UniversalOptions. Accepted forms:
//
//	host:port
//	redis://[user:pass@]host[,host...][/db]     (rediss:// enables TLS)
//	redis-sentinel://[user:pass@]host[,host...]/master[?db=N]
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	q := u.Query()
	path := strings.TrimPrefix(u.Path, "/")

	var secure bool
	switch u.Scheme {
	case "redis", "rediss":
		secure = u.Scheme == "rediss"
		dbStr := path
		if dbStr == "" {
			dbStr = q.Get("db")
		}
		if opts.DB, err = parseDB(dbStr); err != nil {
			return nil, err
		}
	case "redis-sentinel", "rediss-sentinel":
		secure = u.Scheme == "rediss-sentinel"
		opts.MasterName = path
		if opts.DB, err = parseDB(q.Get("db")); err != nil {
			return nil, err
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if secure {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func parseDB(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	db, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid db %q: %w", v, err)
	}
	return db, nil
}

func (r *RedisStore) Load() State {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{Status: "not_ready"}
		}
		return State{Status: "unknown"}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: "unknown"}
	}
	return st
}

func (r *RedisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key, b, 0)
		p.Publish(ctx, r.key, b)
		return nil
	})
	if err != nil {
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("store state in redis")
	}
}
