package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// upgrade accepts a websocket handshake on the server side of a test.
func upgrade(t *testing.T, w http.ResponseWriter, r *http.Request) *Conn {
	t.Helper()
	conn, rw, err := w.(http.Hijacker).Hijack()
	if err != nil {
		t.Errorf("hijack: %v", err)
		return nil
	}
	accept := ComputeAccept(strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")))
	_, _ = rw.WriteString("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n")
	_ = rw.Flush()
	return NewConn(conn, rw, Config{}, false)
}

// echoServer answers every text frame with the same event, wrapping the
// received body under "echo".
func echoServer(t *testing.T, headers chan<- http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headers != nil {
			headers <- r.Header.Clone()
		}
		conn := upgrade(t, w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		for {
			op, payload, err := conn.ReadFrame()
			if err != nil {
				return
			}
			switch op {
			case OpClose:
				_ = conn.WriteFrame(OpClose, nil)
				return
			case OpPing:
				_ = conn.WriteFrame(OpPong, payload)
			case OpText:
				var msg Message
				if err := json.Unmarshal(payload, &msg); err != nil {
					return
				}
				var req Request
				_ = json.Unmarshal(msg.Payload, &req)
				body, _ := json.Marshal(map[string]any{"body": map[string]any{"echo": req.Body}})
				_ = conn.WriteJSON(Message{Event: "other", Payload: body})
				_ = conn.WriteJSON(Message{Event: msg.Event, Payload: body})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
}

func TestSocket_EmitAndListen(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := echoServer(t, headers)

	var connected, disconnected sync.WaitGroup
	connected.Add(1)
	disconnected.Add(1)
	h := http.Header{}
	h.Set("X-Parse-Application-Id", "app")
	s := NewSocket(wsURL(srv), "chat",
		WithHeader(h),
		OnConnect(connected.Done),
		OnDisconnect(disconnected.Done),
	)

	got := make(chan Response, 4)
	if err := s.Listen(func(r Response) { got <- r }); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	connected.Wait()
	if hdr := <-headers; hdr.Get("X-Parse-Application-Id") != "app" {
		t.Fatalf("handshake header missing: %v", hdr)
	}

	if err := s.Emit(Request{Body: "hello"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case r := <-got:
		if string(r.Body) != `{"echo":"hello"}` {
			t.Fatalf("body = %s", r.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no response received")
	}
	select {
	case r := <-got:
		t.Fatalf("response of another event was dispatched: %s", r.Body)
	default:
	}

	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Fatalf("close: %v", err)
	}
	disconnected.Wait()
	if s.Connected() {
		t.Fatal("socket still connected after close")
	}
}

func TestSocket_Validation(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1/x", "x")
	if err := s.Emit(Request{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("emit without body: %v", err)
	}
	if err := s.Listen(nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("listen without handler: %v", err)
	}
	if err := s.Emit(Request{Body: 1}); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("emit on closed socket: %v", err)
	}
}

func TestSocket_OpenFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSocket(wsURL(srv), "chat")
	if err := s.Open(context.Background()); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestConn_MaskedRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConn(client, nil, Config{}, true)
	s := NewConn(server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), Config{}, false)

	payload := strings.Repeat("x", 300)
	errc := make(chan error, 1)
	go func() { errc <- c.WriteFrame(OpText, []byte(payload)) }()

	op, got, err := s.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("write: %v", err)
	}
	if op != OpText || string(got) != payload {
		t.Fatalf("op=%x len=%d", op, len(got))
	}
}

func TestConn_ReadLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConn(client, nil, Config{}, true)
	s := NewConn(server, nil, Config{ReadLimit: 8}, false)

	go func() { _ = c.WriteFrame(OpText, []byte("0123456789")) }()
	if _, _, err := s.ReadFrame(); err == nil {
		t.Fatal("expected frame too large")
	}
}

func TestComputeAccept(t *testing.T) {
	// Example handshake from RFC 6455 section 1.3.
	if got := ComputeAccept("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kLG2kZHqoO0oEo=" {
		t.Fatalf("accept = %s", got)
	}
}

func TestConn_ReassemblesFragments(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := NewConn(client, nil, Config{}, true)
	go func() {
		// text "hel" + ping + continuation "lo" (final)
		_, _ = server.Write([]byte{0x01, 3, 'h', 'e', 'l'})
		_, _ = server.Write([]byte{0x89, 1, 'p'})
		_, _ = server.Write([]byte{0x80, 2, 'l', 'o'})
	}()

	op, payload, err := c.ReadFrame()
	if err != nil || op != OpPing || string(payload) != "p" {
		t.Fatalf("ping: op=%x payload=%q err=%v", op, payload, err)
	}
	op, payload, err = c.ReadFrame()
	if err != nil || op != OpText || string(payload) != "hello" {
		t.Fatalf("message: op=%x payload=%q err=%v", op, payload, err)
	}
}

func TestConn_RejectsProtocolViolations(t *testing.T) {
	cases := map[string][]byte{
		"reserved bits":       {0xC1, 0},
		"masked server frame": {0x81, 0x81, 1, 2, 3, 4, 'x'},
		"orphan continuation": {0x80, 0},
		"fragmented control":  {0x09, 0},
		"oversized control":   {0x89, 126, 0, 126},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			c := NewConn(client, nil, Config{}, true)
			go func() { _, _ = server.Write(frame) }()
			if _, _, err := c.ReadFrame(); err == nil {
				t.Fatal("expected protocol error")
			}
		})
	}
}

func TestConn_KeepaliveClosesSilentPeer(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	// drain pings without ever answering
	go func() { _, _ = io.Copy(io.Discard, server) }()

	c := NewConn(client, nil, Config{}, true)
	dead := make(chan error, 1)
	stop := c.StartKeepalive(context.Background(), 20*time.Millisecond, func(err error) { dead <- err })
	defer stop()

	select {
	case err := <-dead:
		if !errors.Is(err, ErrPeerUnresponsive) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("silent peer was not detected")
	}
	if _, _, err := c.ReadFrame(); err == nil {
		t.Fatal("connection still readable after keepalive closed it")
	}
}
