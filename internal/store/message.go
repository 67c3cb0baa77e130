package store

import "time"

// UpsertMessage inserts or updates a cached message (idempotent on
// group_id + correlation_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (group_id, correlation_id, sender_id, kind, body, file_url, delivery_status, arrived_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, correlation_id) DO UPDATE SET
			body = excluded.body,
			file_url = excluded.file_url,
			delivery_status = excluded.delivery_status`,
		m.GroupID, m.CorrelationID, m.SenderID, m.Kind, m.Body, m.FileURL, m.DeliveryStatus, m.ArrivedAt, now)
	return err
}

// UpsertMessages caches a batch in one transaction.
func (db *DB) UpsertMessages(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (group_id, correlation_id, sender_id, kind, body, file_url, delivery_status, arrived_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(group_id, correlation_id) DO UPDATE SET
				body = excluded.body,
				file_url = excluded.file_url,
				delivery_status = excluded.delivery_status`,
			m.GroupID, m.CorrelationID, m.SenderID, m.Kind, m.Body, m.FileURL, m.DeliveryStatus, m.ArrivedAt, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns cached messages for a conversation in arrival order.
func (db *DB) ListMessages(groupID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, group_id, correlation_id, sender_id, kind, body, file_url, delivery_status, arrived_at
		FROM messages
		WHERE group_id = ?
		ORDER BY id ASC
		LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.CorrelationID, &m.SenderID, &m.Kind, &m.Body, &m.FileURL, &m.DeliveryStatus, &m.ArrivedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkDelivery updates the delivery status of a cached message.
func (db *DB) MarkDelivery(groupID int64, correlationID, status string) error {
	_, err := db.Exec(`UPDATE messages SET delivery_status = ? WHERE group_id = ? AND correlation_id = ?`,
		status, groupID, correlationID)
	return err
}
