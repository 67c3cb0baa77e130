package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// stubRelay is a websocket peer that records every envelope it receives.
func stubRelay(t *testing.T, frames chan Envelope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			var env Envelope
			if err := wsjson.Read(r.Context(), conn, &env); err != nil {
				return
			}
			frames <- env
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitConnect(t *testing.T, ch <-chan json.RawMessage) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connect")
	}
}

func TestEmitAndJoinScope(t *testing.T) {
	frames := make(chan Envelope, 16)
	srv := stubRelay(t, frames)

	c := NewClient(wsURL(srv), "tok", nil)
	connCh, unsub := c.Subscribe(EventConnect, 1)
	defer unsub()

	c.Start(context.Background())
	defer c.Close()
	waitConnect(t, connCh)

	c.JoinScope(42)
	c.JoinScope(42) // idempotent: second call emits nothing
	if err := c.Emit(EventSendMessage, MessagePayload{GroupID: 42, SenderID: 7, Message: "hi", MessageType: "text"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	var got []Envelope
	for len(got) < 2 {
		select {
		case env := <-frames:
			got = append(got, env)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout, got %d frames", len(got))
		}
	}

	if got[0].Event != EventJoinGroup || string(got[0].Data) != "42" {
		t.Errorf("frame[0] = %s %s, want joinGroup 42", got[0].Event, got[0].Data)
	}
	if got[1].Event != EventSendMessage {
		t.Errorf("frame[1] = %s, want sendMessage", got[1].Event)
	}
	var p MessagePayload
	if err := json.Unmarshal(got[1].Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Message != "hi" || p.GroupID != 42 {
		t.Errorf("payload = %+v", p)
	}

	// No third frame: the duplicate JoinScope was suppressed.
	select {
	case env := <-frames:
		t.Errorf("unexpected frame: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInboundFanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		env := Envelope{Event: EventReceiveMessage, Data: json.RawMessage(`{"groupId":42,"senderId":9,"message":"yo","messageType":"text"}`)}
		if err := wsjson.Write(r.Context(), conn, env); err != nil {
			return
		}
		// Hold the connection open.
		var discard Envelope
		_ = wsjson.Read(r.Context(), conn, &discard)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), "", nil)
	ch1, unsub1 := c.Subscribe(EventReceiveMessage, 4)
	defer unsub1()
	ch2, unsub2 := c.Subscribe(EventReceiveMessage, 4)
	defer unsub2()

	c.Start(context.Background())
	defer c.Close()

	for i, ch := range []<-chan json.RawMessage{ch1, ch2} {
		select {
		case data := <-ch:
			msg, err := ParseMessage(data)
			if err != nil {
				t.Fatal(err)
			}
			if msg.Body != "yo" || msg.GroupID != 42 {
				t.Errorf("subscriber %d: msg = %+v", i, msg)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", "", nil)
	if err := c.Emit(EventTyping, TypingPayload{GroupID: 1, UserID: 2}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
	// JoinScope while down is a no-op that may retry later.
	c.JoinScope(5)
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			// Drop the first connection immediately.
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		defer conn.CloseNow()
		var discard Envelope
		_ = wsjson.Read(r.Context(), conn, &discard)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), "", nil)
	connCh, unsub := c.Subscribe(EventConnect, 4)
	defer unsub()
	disCh, unsubDis := c.Subscribe(EventDisconnect, 4)
	defer unsubDis()

	c.Start(context.Background())
	defer c.Close()

	waitConnect(t, connCh)
	select {
	case <-disCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}
	// The client redials on its own.
	waitConnect(t, connCh)
	if n := conns.Load(); n < 2 {
		t.Errorf("connections = %d, want >= 2", n)
	}
}

func TestJoinedScopesClearedOnReconnect(t *testing.T) {
	frames := make(chan Envelope, 16)
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		defer conn.CloseNow()
		for {
			var env Envelope
			if err := wsjson.Read(r.Context(), conn, &env); err != nil {
				return
			}
			frames <- env
			if n == 1 {
				// Kill the first connection after one frame.
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(wsURL(srv), "", nil)
	connCh, unsub := c.Subscribe(EventConnect, 4)
	defer unsub()

	c.Start(context.Background())
	defer c.Close()

	waitConnect(t, connCh)
	c.JoinScope(42)
	select {
	case env := <-frames:
		if env.Event != EventJoinGroup {
			t.Fatalf("frame = %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for first joinGroup")
	}

	// After the drop and redial, the scope is forgotten: joining again
	// emits a fresh joinGroup instead of being suppressed.
	waitConnect(t, connCh)
	c.JoinScope(42)
	select {
	case env := <-frames:
		if env.Event != EventJoinGroup || string(env.Data) != "42" {
			t.Errorf("frame = %+v, want joinGroup 42", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for rejoin frame")
	}
}
