package cache

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	memcachedAbsoluteTTLThreshold = 30 * 24 * time.Hour
	memcachedMaxKeyLength         = 250
)

var errMemcachedNotFound = errors.New("not found")

// MemcachedConfig configures a memcached cache backend.
type MemcachedConfig struct {
	Addresses []string
	Timeout   time.Duration
	Prefix    string
}

// MemcachedStore persists cache entries in memcached over the text protocol.
// Each operation uses a short-lived connection to the server picked by key hash.
type MemcachedStore struct {
	addresses []string
	timeout   time.Duration
	prefix    string
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewMemcachedStoreFromConfig creates a memcached store.
func NewMemcachedStoreFromConfig(cfg MemcachedConfig) (*MemcachedStore, error) {
	addresses := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addresses = append(addresses, trimmed)
		}
	}
	if len(addresses) == 0 {
		return nil, errors.New("at least one memcached address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "bfast"
	}
	return &MemcachedStore{
		addresses: addresses,
		timeout:   timeout,
		prefix:    prefix,
		dial:      (&net.Dialer{Timeout: timeout}).DialContext,
	}, nil
}

// Get loads an entry.
func (s *MemcachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	key = s.key(key)
	var value []byte
	err := s.roundTrip(ctx, key, fmt.Sprintf("get %s\r\n", key), nil, func(r *bufio.Reader) error {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == "END" {
			return errMemcachedNotFound
		}
		// VALUE <key> <flags> <bytes>
		parts := strings.Fields(line)
		if len(parts) != 4 || parts[0] != "VALUE" {
			return fmt.Errorf("unexpected memcached response: %s", line)
		}
		size, err := strconv.Atoi(parts[3])
		if err != nil {
			return fmt.Errorf("invalid memcached size: %w", err)
		}
		payload := make([]byte, size+2)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		if end, err := readLine(r); err != nil {
			return err
		} else if end != "END" {
			return fmt.Errorf("unexpected memcached terminator: %s", end)
		}
		value = payload[:size]
		return nil
	})
	if errors.Is(err, errMemcachedNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set stores an entry with TTL.
func (s *MemcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key = s.key(key)
	cmd := fmt.Sprintf("set %s 0 %d %d\r\n", key, ttlToSeconds(ttl), len(value))
	return s.roundTrip(ctx, key, cmd, value, func(r *bufio.Reader) error {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line != "STORED" {
			return fmt.Errorf("memcached set failed: %s", line)
		}
		return nil
	})
}

// Delete removes an entry. Missing keys are not an error.
func (s *MemcachedStore) Delete(ctx context.Context, key string) error {
	key = s.key(key)
	return s.roundTrip(ctx, key, fmt.Sprintf("delete %s\r\n", key), nil, func(r *bufio.Reader) error {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		switch line {
		case "DELETED", "NOT_FOUND":
			return nil
		default:
			return fmt.Errorf("unexpected memcached delete response: %s", line)
		}
	})
}

// DeletePrefix is not supported: memcached cannot enumerate keys.
func (s *MemcachedStore) DeletePrefix(context.Context, string) error {
	return ErrPrefixUnsupported
}

// Close is a no-op; connections are per operation.
func (s *MemcachedStore) Close() error {
	return nil
}

func (s *MemcachedStore) roundTrip(ctx context.Context, key, cmd string, data []byte, read func(*bufio.Reader) error) error {
	conn, err := s.dial(ctx, "tcp", s.pickAddress(key))
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	w := bufio.NewWriter(conn)
	w.WriteString(cmd)
	if data != nil {
		w.Write(data)
		w.WriteString("\r\n")
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return read(bufio.NewReader(conn))
}

func (s *MemcachedStore) pickAddress(key string) string {
	if len(s.addresses) == 1 {
		return s.addresses[0]
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return s.addresses[int(hash.Sum32()%uint32(len(s.addresses)))]
}

// key prefixes and, when needed, hashes key into a valid memcached key.
func (s *MemcachedStore) key(key string) string {
	full := s.prefix + ":" + key
	if len(full) <= memcachedMaxKeyLength && !strings.ContainsAny(full, " \t\r\n") {
		return full
	}
	sum := sha256.Sum256([]byte(key))
	return s.prefix + ":h:" + hex.EncodeToString(sum[:])
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func ttlToSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	if ttl > memcachedAbsoluteTTLThreshold {
		return int(time.Now().Add(ttl).Unix())
	}
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds <= 0 {
		return 1
	}
	return seconds
}
