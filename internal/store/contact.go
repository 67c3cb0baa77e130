package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (user_id, email, display_name, group_id, last_message_preview, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			group_id = COALESCE(excluded.group_id, contacts.group_id),
			last_message_preview = excluded.last_message_preview,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.UserID, c.Email, c.DisplayName, c.GroupID, c.LastMessagePreview, c.UnreadCount, now)
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in one transaction.
// Unread counters are preserved for contacts that already exist.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (user_id, email, display_name, group_id, last_message_preview, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
				group_id = COALESCE(excluded.group_id, contacts.group_id),
				last_message_preview = excluded.last_message_preview,
				updated_at = excluded.updated_at`,
			c.UserID, c.Email, c.DisplayName, c.GroupID, c.LastMessagePreview, c.UnreadCount, now); err != nil {
			return fmt.Errorf("upsert contact %d: %w", c.UserID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns all cached contacts ordered by display name.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT user_id, email, display_name, group_id, last_message_preview, unread_count
		FROM contacts
		ORDER BY display_name ASC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.UserID, &c.Email, &c.DisplayName, &c.GroupID, &c.LastMessagePreview, &c.UnreadCount); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContact returns a contact by user id.
func (db *DB) GetContact(userID int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT user_id, email, display_name, group_id, last_message_preview, unread_count
		FROM contacts WHERE user_id = ?`, userID).
		Scan(&c.UserID, &c.Email, &c.DisplayName, &c.GroupID, &c.LastMessagePreview, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactByGroup returns the contact bound to a conversation id, if any.
func (db *DB) ContactByGroup(groupID int64) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT user_id, email, display_name, group_id, last_message_preview, unread_count
		FROM contacts WHERE group_id = ?`, groupID).
		Scan(&c.UserID, &c.Email, &c.DisplayName, &c.GroupID, &c.LastMessagePreview, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetContactGroup binds a contact to its resolved conversation id.
func (db *DB) SetContactGroup(userID, groupID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET group_id = ?, updated_at = ? WHERE user_id = ?`, groupID, now, userID)
	return err
}

// SetContactPreview updates the last-message preview.
func (db *DB) SetContactPreview(userID int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET last_message_preview = ?, updated_at = ? WHERE user_id = ?`, preview, now, userID)
	return err
}

// IncrementUnread bumps the unread counter for a contact.
func (db *DB) IncrementUnread(userID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET unread_count = unread_count + 1, updated_at = ? WHERE user_id = ?`, now, userID)
	return err
}

// ResetUnread zeroes the unread counter for a contact.
func (db *DB) ResetUnread(userID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET unread_count = 0, updated_at = ? WHERE user_id = ?`, now, userID)
	return err
}
