package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestWS starts a server that upgrades one connection and returns the
// server-side Conn together with a raw client connection.
func dialTestWS(t *testing.T, opts Options) (*WSConn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *WSConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, opts)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		t.Cleanup(func() { serverConn.Close(CloseNormal, "") })
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func TestRoundTripText(t *testing.T) {
	server, client := dialTestWS(t, Options{})

	if got := server.Subprotocol(); got != Subprotocol {
		t.Errorf("subprotocol = %q, want %q", got, Subprotocol)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"m":"event"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}
	data, err := server.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(data) != `{"m":"event"}` {
		t.Errorf("Receive = %q", data)
	}

	if err := server.Send(context.Background(), []byte(`[]`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if typ != websocket.TextMessage || string(msg) != `[]` {
		t.Errorf("client got type %d %q", typ, msg)
	}
}

func TestBinaryFrameRejected(t *testing.T) {
	server, client := dialTestWS(t, Options{})

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if _, err := server.Receive(context.Background()); !errors.Is(err, ErrBinaryFrame) {
		t.Fatalf("Receive error = %v, want ErrBinaryFrame", err)
	}
}

func TestOversizedFrameClosesWithTooBig(t *testing.T) {
	server, client := dialTestWS(t, Options{ReceiveLimit: 16})

	if err := client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if _, err := server.Receive(context.Background()); !errors.Is(err, ErrTooBig) {
		t.Fatalf("Receive error = %v, want ErrTooBig", err)
	}
	server.Close(CloseMessageTooBig, "Message too big")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if code := CloseCode(err); code != CloseMessageTooBig {
		t.Errorf("close code = %d (%v), want %d", code, err, CloseMessageTooBig)
	}
}

func TestPeerCloseReported(t *testing.T) {
	server, client := dialTestWS(t, Options{})

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	_, err := server.Receive(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive error = %v, want ErrClosed", err)
	}
	if code := CloseCode(err); code != CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, CloseGoingAway)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server, _ := dialTestWS(t, Options{})

	server.Close(CloseNormal, "")
	server.Close(CloseGoingAway, "again")

	if err := server.Send(context.Background(), []byte(`[]`)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestDialAddsViewportAndSubprotocol(t *testing.T) {
	type handshake struct {
		query    string
		protocol string
	}
	seen := make(chan handshake, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, Options{})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		seen <- handshake{query: r.URL.RawQuery, protocol: c.Subprotocol()}
		c.Close(CloseNormal, "")
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), srv.URL+"/counter", 800, 600, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close(CloseNormal, "")

	select {
	case h := <-seen:
		if h.query != "h=600&w=800" {
			t.Errorf("query = %q, want h=600&w=800", h.query)
		}
		if h.protocol != Subprotocol {
			t.Errorf("subprotocol = %q", h.protocol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake not observed")
	}
}
