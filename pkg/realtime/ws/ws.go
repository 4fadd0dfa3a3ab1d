// Package ws is a minimal RFC 6455 client used for realtime function events.
package ws

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA

	websocketMagicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

// Config tunes a socket. Zero values take the defaults.
type Config struct {
	ReadLimit        int
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// KeepaliveInterval enables periodic ping frames. Zero disables keepalive.
	KeepaliveInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:         1 << 20,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		KeepaliveInterval: 25 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.KeepaliveInterval < 0 {
		cfg.KeepaliveInterval = 0
	}
	return cfg
}

// Conn is one websocket connection. Frames written by a client-side Conn are masked.
type Conn struct {
	conn         net.Conn
	rw           *bufio.ReadWriter
	readLimit    int
	writeTimeout time.Duration
	masked       bool
	writeMu      sync.Mutex

	// lastRead holds the unix nanos of the most recent frame received.
	lastRead atomic.Int64

	// partial message state, owned by the reading goroutine
	fragOp      byte
	fragmenting bool
	fragments   []byte
}

var (
	errFrameTooLarge        = errors.New("websocket: frame exceeds read limit")
	errReservedBits         = errors.New("websocket: reserved bits set")
	errMaskedServerFrame    = errors.New("websocket: server frame is masked")
	errControlTooLong       = errors.New("websocket: control frame payload exceeds 125 bytes")
	errFragmentedControl    = errors.New("websocket: fragmented control frame")
	errUnexpectedContinue   = errors.New("websocket: continuation frame without a started message")
	errInterleavedFragments = errors.New("websocket: data frame inside a fragmented message")
)

// NewConn wraps an established connection whose handshake already completed.
func NewConn(conn net.Conn, rw *bufio.ReadWriter, cfg Config, client bool) *Conn {
	cfg = normalizeConfig(cfg)
	if rw == nil {
		rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	}
	c := &Conn{
		conn:         conn,
		rw:           rw,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.WriteTimeout,
		masked:       client,
	}
	c.lastRead.Store(time.Now().UnixNano())
	return c
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Idle reports how long ago the last frame arrived.
func (c *Conn) Idle() time.Duration {
	return time.Since(time.Unix(0, c.lastRead.Load()))
}

func (c *Conn) WriteJSON(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.WriteFrame(OpText, raw)
}

// WriteFrame sends payload as a single final frame.
func (c *Conn) WriteFrame(opcode byte, payload []byte) error {
	frame, err := c.encode(opcode, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := c.rw.Write(frame); err != nil {
		return err
	}
	return c.rw.Flush()
}

// encode lays out header, optional mask key and payload in one buffer.
func (c *Conn) encode(opcode byte, payload []byte) ([]byte, error) {
	n := len(payload)
	frame := make([]byte, 2, 14+n)
	frame[0] = 0x80 | opcode
	var lenByte byte
	switch {
	case n < 126:
		lenByte = byte(n)
	case n <= 0xFFFF:
		lenByte = 126
		frame = binary.BigEndian.AppendUint16(frame, uint16(n))
	default:
		lenByte = 127
		frame = binary.BigEndian.AppendUint64(frame, uint64(n))
	}
	if !c.masked {
		frame[1] = lenByte
		return append(frame, payload...), nil
	}

	frame[1] = 0x80 | lenByte
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	frame = append(frame, key[:]...)
	body := len(frame)
	frame = append(frame, payload...)
	applyMask(frame[body:], key)
	return frame, nil
}

func applyMask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// ReadFrame returns the next control frame or complete data message.
// Fragmented messages are reassembled; control frames that arrive between
// fragments are returned as soon as they are read.
func (c *Conn) ReadFrame() (byte, []byte, error) {
	for {
		fin, opcode, payload, err := c.readRaw()
		if err != nil {
			return 0, nil, err
		}
		c.lastRead.Store(time.Now().UnixNano())

		switch {
		case opcode&0x8 != 0:
			if !fin {
				return 0, nil, errFragmentedControl
			}
			return opcode, payload, nil
		case opcode == OpContinuation:
			if !c.fragmenting {
				return 0, nil, errUnexpectedContinue
			}
			if len(c.fragments)+len(payload) > c.readLimit {
				c.resetFragments()
				return 0, nil, errFrameTooLarge
			}
			c.fragments = append(c.fragments, payload...)
			if fin {
				op, msg := c.fragOp, c.fragments
				c.resetFragments()
				return op, msg, nil
			}
		default:
			if c.fragmenting {
				return 0, nil, errInterleavedFragments
			}
			if fin {
				return opcode, payload, nil
			}
			c.fragOp = opcode
			c.fragmenting = true
			c.fragments = append(make([]byte, 0, 2*len(payload)), payload...)
		}
	}
}

func (c *Conn) resetFragments() {
	c.fragOp = 0
	c.fragmenting = false
	c.fragments = nil
}

// readRaw decodes exactly one frame off the wire.
func (c *Conn) readRaw() (fin bool, opcode byte, payload []byte, err error) {
	var head [2]byte
	if _, err = io.ReadFull(c.rw, head[:]); err != nil {
		return
	}
	if head[0]&0x70 != 0 {
		err = errReservedBits
		return
	}
	fin = head[0]&0x80 != 0
	opcode = head[0] & 0x0F
	masked := head[1]&0x80 != 0
	if masked && c.masked {
		err = errMaskedServerFrame
		return
	}

	size := uint64(head[1] & 0x7F)
	switch size {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(c.rw, ext[:]); err != nil {
			return
		}
		size = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(c.rw, ext[:]); err != nil {
			return
		}
		size = binary.BigEndian.Uint64(ext[:])
	}
	if opcode&0x8 != 0 && size > 125 {
		err = errControlTooLong
		return
	}
	if size > uint64(c.readLimit) {
		err = errFrameTooLarge
		return
	}

	var key [4]byte
	if masked {
		if _, err = io.ReadFull(c.rw, key[:]); err != nil {
			return
		}
	}
	payload = make([]byte, size)
	if _, err = io.ReadFull(c.rw, payload); err != nil {
		return
	}
	if masked {
		applyMask(payload, key)
	}
	return
}

// ComputeAccept derives the Sec-WebSocket-Accept value of a handshake key.
func ComputeAccept(secKey string) string {
	sum := sha1.Sum([]byte(secKey + websocketMagicGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
