package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/protocol"
	"github.com/gorilla/websocket"
)

// startPongServer answers every ping frame with garbage followed by a pong.
// A join frame makes it hang up.
func startPongServer(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			switch msg.(type) {
			case protocol.Ping:
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`))
				out, _ := protocol.Encode(protocol.Pong{})
				_ = conn.WriteMessage(websocket.TextMessage, out)
			case protocol.Join:
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-c.Incoming():
		if !ok {
			t.Fatal("incoming closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestSendAndReceive(t *testing.T) {
	c, err := Dial(context.Background(), startPongServer(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Send(protocol.Ping{}); err != nil {
		t.Fatal(err)
	}
	// the malformed frame before the pong is dropped
	if _, ok := recv(t, c).(protocol.Pong); !ok {
		t.Fatal("expected pong")
	}
}

func TestSendAfterClose(t *testing.T) {
	c, err := Dial(context.Background(), startPongServer(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()

	if err := c.Send(protocol.Ping{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed")
	}
}

func TestServerHangupClosesIncoming(t *testing.T) {
	c, err := Dial(context.Background(), startPongServer(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Send(protocol.Join{Username: "alice", RoomID: "r"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed after hangup")
	}
	for range c.Incoming() {
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/ws"); err == nil {
		t.Fatal("expected dial error")
	}
}
