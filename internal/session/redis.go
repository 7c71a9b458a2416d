package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"castctl/internal/trackid"
)

// RedisConfig configures the Redis bridge controller.
type RedisConfig struct {
	Addr     string
	Addrs    []string
	Username string
	Password string
	// Prefix namespaces every key. Defaults to "castctl".
	Prefix   string
	Timeout  time.Duration
	PoolSize int
	Logger   *slog.Logger
}

// Redis bridges to an out-of-process session controller that mirrors its
// device and queue state into Redis and consumes commands from a stream.
//
// Key layout, with the default prefix:
//
//	castctl:devices           hash   device id -> JSON Device
//	castctl:queue:<device>    list   base62 track ids in play order
//	castctl:position:<device> string current queue index
//	castctl:commands          stream device, command, tracks
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	reads   singleflight.Group
}

var _ Controller = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		Protocol:     2,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	r := NewRedisWithClient(client, cfg.Prefix, cfg.Timeout, cfg.Logger)

	pingCtx, cancel := r.opContext(ctx)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return r, nil
}

// NewRedisWithClient wraps an existing client. A zero timeout leaves deadlines
// to the caller's context.
func NewRedisWithClient(client redis.UniversalClient, prefix string, timeout time.Duration, logger *slog.Logger) *Redis {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "castctl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, timeout: timeout, logger: logger}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) devicesKey() string {
	return r.prefix + ":devices"
}

func (r *Redis) queueKey(deviceID string) string {
	return r.prefix + ":queue:" + deviceID
}

func (r *Redis) positionKey(deviceID string) string {
	return r.prefix + ":position:" + deviceID
}

func (r *Redis) commandsKey() string {
	return r.prefix + ":commands"
}

func (r *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Devices reads the device hash. Concurrent callers share one round trip.
func (r *Redis) Devices(ctx context.Context) ([]Device, error) {
	value, err, _ := r.reads.Do("devices", func() (interface{}, error) {
		opCtx, cancel := r.opContext(ctx)
		defer cancel()
		entries, err := r.client.HGetAll(opCtx, r.devicesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("read devices: %w", err)
		}
		devices := make([]Device, 0, len(entries))
		for id, raw := range entries {
			devices = append(devices, r.decodeDevice(id, raw))
		}
		sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
		return devices, nil
	})
	if err != nil {
		return nil, err
	}
	shared := value.([]Device)
	return append(make([]Device, 0, len(shared)), shared...), nil
}

func (r *Redis) decodeDevice(id, raw string) Device {
	var device Device
	if err := json.Unmarshal([]byte(raw), &device); err != nil {
		r.logger.Warn("device descriptor is not JSON, using it as the display name", "device_id", id, "error", err)
		device = Device{Name: raw}
	}
	device.ID = id
	return normalizeDevice(device)
}

// Queue reads membership, tracks and position in one MULTI/EXEC so the
// snapshot never mixes two updates.
func (r *Redis) Queue(ctx context.Context, deviceID string) (Queue, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	var (
		exists   *redis.BoolCmd
		encoded  *redis.StringSliceCmd
		position *redis.StringCmd
	)
	_, err := r.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		exists = pipe.HExists(opCtx, r.devicesKey(), deviceID)
		encoded = pipe.LRange(opCtx, r.queueKey(deviceID), 0, -1)
		position = pipe.Get(opCtx, r.positionKey(deviceID))
		return nil
	})
	// A missing position key surfaces as redis.Nil from the GET.
	if err != nil && !errors.Is(err, redis.Nil) {
		return Queue{}, fmt.Errorf("read queue %q: %w", deviceID, err)
	}
	if found, err := exists.Result(); err != nil {
		return Queue{}, fmt.Errorf("lookup device %q: %w", deviceID, err)
	} else if !found {
		return Queue{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}

	tracks, err := trackid.DecodeAll(encoded.Val())
	if err != nil {
		return Queue{}, fmt.Errorf("read queue %q: %w", deviceID, err)
	}

	current := 0
	rawPosition, err := position.Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Queue{}, fmt.Errorf("read position %q: %w", deviceID, err)
	default:
		current, err = strconv.Atoi(strings.TrimSpace(rawPosition))
		if err != nil {
			return Queue{}, fmt.Errorf("parse position %q: %w", deviceID, err)
		}
	}
	return Queue{Tracks: tracks, Position: current}, nil
}

// Submit appends the command to the commands stream. Device membership is not
// checked; the consuming controller decides what to do with unknown devices.
func (r *Redis) Submit(ctx context.Context, deviceID string, cmd Command) error {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	id, err := r.client.XAdd(opCtx, &redis.XAddArgs{
		Stream: r.commandsKey(),
		Values: []interface{}{
			"device", deviceID,
			"command", cmd.Kind.String(),
			"tracks", strings.Join(trackid.EncodeAll(cmd.Tracks), ","),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("submit %s to %q: %w", cmd.Kind, deviceID, err)
	}
	r.logger.Debug("command submitted", "device_id", deviceID, "command", cmd.Kind.String(), "entry_id", id)
	return nil
}
