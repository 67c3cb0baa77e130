// Package directory maintains the known conversation partners: display
// names, conversation bindings, unread counters and last-message previews.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/identity"
	"chatcore/internal/relay"
	"chatcore/internal/store"
)

const previewLen = 100

// Directory is the contact directory. The in-memory map is the live view;
// the SQLite cache behind it survives relay outages and restarts.
type Directory struct {
	mu       sync.RWMutex
	rest     *relay.Client
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	contacts map[int64]*store.Contact
}

// New creates a directory backed by the relay REST client and the cache.
func New(rest *relay.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		rest:     rest,
		db:       db,
		bus:      b,
		logger:   logger,
		contacts: make(map[int64]*store.Contact),
	}
}

// Load fetches the caller's contacts from the relay. Display names are
// derived from the email local part; unread counters start at zero.
// On failure the live view is left untouched and relay.ErrFetch surfaces —
// callers fall back to Cached.
func (d *Directory) Load(ctx context.Context, ident identity.Identity) ([]store.Contact, error) {
	rows, err := d.rest.ChatContacts(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	contacts := lo.Map(rows, func(r relay.ContactRow, _ int) store.Contact {
		return store.Contact{
			UserID:             r.OtherUserID.Int64(),
			Email:              r.OtherEmail,
			DisplayName:        displayName(r.OtherEmail),
			GroupID:            r.GroupID,
			LastMessagePreview: truncate(r.LastMessage, previewLen),
		}
	})

	if err := d.db.BulkUpsertContacts(contacts); err != nil {
		d.logger.Warn("contact cache write failed", zap.Error(err))
	}

	d.mu.Lock()
	d.contacts = make(map[int64]*store.Contact, len(contacts))
	for i := range contacts {
		c := contacts[i]
		d.contacts[c.UserID] = &c
	}
	d.mu.Unlock()

	d.bus.Emit(bus.KindDirectoryLoaded, len(contacts))
	return contacts, nil
}

// Cached returns the last-known contacts from the cache, for use when Load
// fails. Unread counters reflect the persisted values.
func (d *Directory) Cached() ([]store.Contact, error) {
	return d.db.ListContacts()
}

// Contacts returns a snapshot of the live view.
func (d *Directory) Contacts() []store.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]store.Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, *c)
	}
	return out
}

// Resolve returns the conversation id binding ident and contact, calling the
// relay's idempotent get-or-create only when no binding is cached. Resolving
// an unknown contact (a search candidate) promotes it into the directory.
func (d *Directory) Resolve(ctx context.Context, ident identity.Identity, contact *store.Contact) (int64, error) {
	if contact.GroupID != nil {
		return *contact.GroupID, nil
	}

	d.mu.RLock()
	known := d.contacts[contact.UserID]
	d.mu.RUnlock()
	if known != nil && known.GroupID != nil {
		id := *known.GroupID
		contact.GroupID = &id
		return id, nil
	}

	if cached, err := d.db.GetContact(contact.UserID); err == nil && cached != nil && cached.GroupID != nil {
		id := *cached.GroupID
		d.bind(contact, id)
		return id, nil
	}

	id, err := d.rest.CreateOrGetOneToOneGroup(ctx, ident.ID, contact.UserID)
	if err != nil {
		return 0, err
	}
	d.bind(contact, id)
	return id, nil
}

// bind records a resolved conversation id in the live view and the cache.
func (d *Directory) bind(contact *store.Contact, groupID int64) {
	contact.GroupID = &groupID

	d.mu.Lock()
	known := d.contacts[contact.UserID]
	if known == nil {
		c := *contact
		d.contacts[contact.UserID] = &c
	} else {
		known.GroupID = &groupID
	}
	d.mu.Unlock()

	if err := d.db.UpsertContact(contact); err != nil {
		d.logger.Warn("contact cache write failed", zap.Error(err), zap.Int64("user_id", contact.UserID))
	}
	d.bus.Emit(bus.KindDirectoryUpdated, contact.UserID)
}

// Search looks up users by partial text, excluding the caller. An empty
// query yields an empty result without a network call; a fetch failure is
// recovered locally as an empty candidate list. Candidates are normalized
// like contacts with a nil conversation binding, and the directory itself
// is never mutated here.
func (d *Directory) Search(ctx context.Context, query string, selfID int64) []store.Contact {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	rows, err := d.rest.SearchUsers(ctx, query, selfID)
	if err != nil {
		d.logger.Warn("user search failed", zap.Error(err), zap.String("query", query))
		return nil
	}

	rows = lo.Filter(rows, func(r relay.UserRow, _ int) bool {
		return r.UsersID.Int64() != selfID
	})
	return lo.Map(rows, func(r relay.UserRow, _ int) store.Contact {
		return store.Contact{
			UserID:      r.UsersID.Int64(),
			Email:       r.Email,
			DisplayName: displayName(r.Email),
		}
	})
}

// MarkRead zeroes the unread counter for a contact. Called when their
// conversation becomes active.
func (d *Directory) MarkRead(userID int64) {
	d.mu.Lock()
	if c := d.contacts[userID]; c != nil {
		c.UnreadCount = 0
	}
	d.mu.Unlock()

	if err := d.db.ResetUnread(userID); err != nil {
		d.logger.Warn("unread reset failed", zap.Error(err), zap.Int64("user_id", userID))
	}
	d.bus.Emit(bus.KindDirectoryUpdated, userID)
}

// ApplyInbound records an inbound message against its conversation partner:
// preview update always, unread increment only when the conversation is not
// the active one.
func (d *Directory) ApplyInbound(msg *store.Message, active bool) {
	var userID int64
	d.mu.Lock()
	for _, c := range d.contacts {
		if c.GroupID != nil && *c.GroupID == msg.GroupID {
			c.LastMessagePreview = preview(msg)
			if !active {
				c.UnreadCount++
			}
			userID = c.UserID
			break
		}
	}
	d.mu.Unlock()

	if userID == 0 {
		cached, err := d.db.ContactByGroup(msg.GroupID)
		if err != nil || cached == nil {
			return
		}
		userID = cached.UserID
	}

	if err := d.db.SetContactPreview(userID, preview(msg)); err != nil {
		d.logger.Warn("preview update failed", zap.Error(err), zap.Int64("user_id", userID))
	}
	if !active {
		if err := d.db.IncrementUnread(userID); err != nil {
			d.logger.Warn("unread increment failed", zap.Error(err), zap.Int64("user_id", userID))
		}
	}
	d.bus.Emit(bus.KindDirectoryUpdated, userID)
}

// displayName derives a name from the email local part.
func displayName(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func preview(msg *store.Message) string {
	if msg.Body != "" {
		return truncate(msg.Body, previewLen)
	}
	return "[" + msg.Kind + "]"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
