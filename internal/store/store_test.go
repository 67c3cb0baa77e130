package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func gid(v int64) *int64 { return &v }

func TestUpsertContactPreservesGroup(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{UserID: 7, Email: "jane@x.com", DisplayName: "jane", GroupID: gid(12)}); err != nil {
		t.Fatal(err)
	}
	// A later upsert without a group id must not clear the binding.
	if err := db.UpsertContact(&Contact{UserID: 7, Email: "jane@x.com", DisplayName: "jane"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact(7)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.GroupID == nil || *c.GroupID != 12 {
		t.Errorf("contact = %+v, want group 12 preserved", c)
	}
}

func TestBulkUpsertKeepsUnread(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{UserID: 7, DisplayName: "jane"}); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread(7); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread(7); err != nil {
		t.Fatal(err)
	}

	// A directory reload must not wipe the unread counter.
	if err := db.BulkUpsertContacts([]Contact{{UserID: 7, DisplayName: "jane"}, {UserID: 8, DisplayName: "bob"}}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact(7)
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Errorf("got %d contacts, want 2", len(contacts))
	}
}

func TestUnreadResetAndContactByGroup(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{UserID: 9, DisplayName: "eve", GroupID: gid(33)}); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementUnread(9); err != nil {
		t.Fatal(err)
	}
	if err := db.ResetUnread(9); err != nil {
		t.Fatal(err)
	}

	c, err := db.ContactByGroup(33)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.UserID != 9 {
		t.Fatalf("ContactByGroup(33) = %+v, want user 9", c)
	}
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after reset", c.UnreadCount)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{GroupID: 5, CorrelationID: "c1", SenderID: 7, Kind: KindText, Body: "hi", DeliveryStatus: DeliverySent, ArrivedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.DeliveryStatus = DeliveryReceived
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].DeliveryStatus != DeliveryReceived {
		t.Errorf("delivery = %q, want %q", msgs[0].DeliveryStatus, DeliveryReceived)
	}
}

func TestListMessagesArrivalOrder(t *testing.T) {
	db := testDB(t)

	// Arrival order is insertion order, regardless of timestamps.
	batch := []*Message{
		{GroupID: 5, CorrelationID: "a", SenderID: 1, Kind: KindText, Body: "first", ArrivedAt: 3000, DeliveryStatus: DeliveryReceived},
		{GroupID: 5, CorrelationID: "b", SenderID: 2, Kind: KindText, Body: "second", ArrivedAt: 1000, DeliveryStatus: DeliveryReceived},
		{GroupID: 5, CorrelationID: "c", SenderID: 1, Kind: KindText, Body: "third", ArrivedAt: 2000, DeliveryStatus: DeliveryReceived},
	}
	if err := db.UpsertMessages(batch); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Body != want {
			t.Errorf("msgs[%d].Body = %q, want %q", i, msgs[i].Body, want)
		}
	}
}

func TestMarkDelivery(t *testing.T) {
	db := testDB(t)

	m := &Message{GroupID: 5, CorrelationID: "c1", SenderID: 7, Kind: KindText, Body: "hi", DeliveryStatus: DeliveryUnsent, ArrivedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkDelivery(5, "c1", DeliverySent); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages(5, 10)
	if msgs[0].DeliveryStatus != DeliverySent {
		t.Errorf("delivery = %q, want %q", msgs[0].DeliveryStatus, DeliverySent)
	}
}
