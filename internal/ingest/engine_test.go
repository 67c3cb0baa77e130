package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatcore/internal/bus"
	"chatcore/internal/directory"
	"chatcore/internal/identity"
	"chatcore/internal/relay"
	"chatcore/internal/store"
)

type fixedActive struct {
	gid int64
	ok  bool
}

func (f fixedActive) ActiveConversation() (int64, bool) { return f.gid, f.ok }

func testEngine(t *testing.T, active ActiveProvider) (*Engine, *store.DB, *directory.Directory, *bus.Bus) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"otherUserId":9,"otherEmail":"jane@x.com","groupId":42}]}`))
	}))
	t.Cleanup(srv.Close)

	b := bus.New()
	dir := directory.New(relay.NewClient(srv.URL, "tok", 5*time.Second, nil), db, b, nil)
	if _, err := dir.Load(context.Background(), identity.Identity{ID: 1}); err != nil {
		t.Fatal(err)
	}

	e := New(db, dir, b, active, nil)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, db, dir, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func messageCount(t *testing.T, db *store.DB, gid int64) int {
	t.Helper()
	msgs, err := db.ListMessages(gid, 0)
	if err != nil {
		t.Fatal(err)
	}
	return len(msgs)
}

func TestInboundToInactiveConversation(t *testing.T) {
	_, db, dir, b := testEngine(t, fixedActive{ok: false})

	b.Emit(bus.KindRelayMessage, &store.Message{
		GroupID: 42, CorrelationID: "c1", SenderID: 9,
		Kind: store.KindText, Body: "psst", DeliveryStatus: store.DeliveryReceived,
	})

	waitFor(t, "message cached", func() bool { return messageCount(t, db, 42) == 1 })
	waitFor(t, "unread bumped", func() bool {
		for _, c := range dir.Contacts() {
			if c.UserID == 9 {
				return c.UnreadCount == 1 && c.LastMessagePreview == "psst"
			}
		}
		return false
	})
}

func TestInboundToActiveConversationSkipsUnread(t *testing.T) {
	_, db, dir, b := testEngine(t, fixedActive{gid: 42, ok: true})

	b.Emit(bus.KindRelayMessage, &store.Message{
		GroupID: 42, CorrelationID: "c1", SenderID: 9,
		Kind: store.KindText, Body: "hello", DeliveryStatus: store.DeliveryReceived,
	})

	waitFor(t, "message cached", func() bool { return messageCount(t, db, 42) == 1 })
	waitFor(t, "preview moved", func() bool {
		for _, c := range dir.Contacts() {
			if c.UserID == 9 {
				return c.LastMessagePreview == "hello"
			}
		}
		return false
	})
	for _, c := range dir.Contacts() {
		if c.UserID == 9 && c.UnreadCount != 0 {
			t.Errorf("unread = %d, want 0 for the active conversation", c.UnreadCount)
		}
	}
}

func TestBacklogCached(t *testing.T) {
	_, db, _, b := testEngine(t, fixedActive{gid: 42, ok: true})

	b.Emit(bus.KindRelayHistory, []*store.Message{
		{GroupID: 42, CorrelationID: "h1", SenderID: 9, Kind: store.KindText, Body: "a", DeliveryStatus: store.DeliveryReceived},
		{GroupID: 42, CorrelationID: "h2", SenderID: 1, Kind: store.KindText, Body: "b", DeliveryStatus: store.DeliverySent},
	})

	waitFor(t, "backlog cached", func() bool { return messageCount(t, db, 42) == 2 })
}

func TestOutboundCachedWithoutUnread(t *testing.T) {
	_, db, dir, b := testEngine(t, fixedActive{gid: 42, ok: true})

	b.Emit(bus.KindSessionOutbound, &store.Message{
		GroupID: 42, CorrelationID: "o1", SenderID: 1,
		Kind: store.KindText, Body: "sent by me", DeliveryStatus: store.DeliverySent,
	})

	waitFor(t, "outbound cached", func() bool { return messageCount(t, db, 42) == 1 })
	waitFor(t, "preview moved", func() bool {
		for _, c := range dir.Contacts() {
			if c.UserID == 9 {
				return c.LastMessagePreview == "sent by me"
			}
		}
		return false
	})
	for _, c := range dir.Contacts() {
		if c.UserID == 9 && c.UnreadCount != 0 {
			t.Errorf("unread = %d, want 0 for own message", c.UnreadCount)
		}
	}
}
