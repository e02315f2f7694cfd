package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/maillens/maillens/consts"
)

// Message is a normalized, persisted mail message. (Source, SourceUID) is
// the natural dedup key; ID is assigned by the store on insert.
type Message struct {
	ID        int64
	Source    string
	SourceUID string
	MessageID string
	DateTS    int64 // epoch milliseconds
	FromName  string
	FromEmail string
	ToList    []string
	CcList    []string
	Subject   string
	Snippet   string
	BodyText  string
	BodyHash  string
	SizeBytes int64
	HasAttach bool
}

// MessageSummary is the listing/search projection of a Message row.
type MessageSummary struct {
	ID        int64  `json:"id"`
	DateTS    int64  `json:"date_ts"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`
}

// InsertMessage writes a message into the primary table and its FTS shadow
// entry inside the given transaction, with insert-if-absent semantics on
// (source, source_uid). It returns true when a new row was created and
// false when the row already existed; an existing row is never mutated and
// never gets a second FTS entry.
func (d *Database) InsertMessage(ctx context.Context, tx *sql.Tx, m *Message) (bool, error) {
	toJSON, err := marshalAddresses(m.ToList)
	if err != nil {
		return false, fmt.Errorf("failed to serialize to_list: %w", err)
	}
	ccJSON, err := marshalAddresses(m.CcList)
	if err != nil {
		return false, fmt.Errorf("failed to serialize cc_list: %w", err)
	}

	d.logQuery("INSERT OR IGNORE INTO emails", m.Source, m.SourceUID)
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails
			(source, source_uid, message_id, date_ts, from_name, from_email,
			 to_json, cc_json, subject, snippet, body_text, body_hash, size_bytes, has_attach)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Source, m.SourceUID, m.MessageID, m.DateTS, m.FromName, m.FromEmail,
		toJSON, ccJSON, m.Subject, m.Snippet, m.BodyText, m.BodyHash,
		m.SizeBytes, boolToInt(m.HasAttach),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", consts.ErrDBInsertFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Duplicate (source, source_uid): row untouched, no FTS entry.
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get inserted row id: %w", err)
	}
	m.ID = id

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO emails_fts(rowid, subject, body) VALUES (?, ?, ?)",
		id, m.Subject, m.BodyText,
	); err != nil {
		return false, fmt.Errorf("failed to insert FTS entry: %w", err)
	}

	return true, nil
}

// GetMessageByNaturalKey fetches a message row by its dedup key.
func (d *Database) GetMessageByNaturalKey(ctx context.Context, source, sourceUID string) (*Message, error) {
	m := &Message{}
	var toJSON, ccJSON string
	var hasAttach int
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, source, source_uid, message_id, date_ts, from_name, from_email,
		       to_json, cc_json, subject, snippet, body_text, body_hash, size_bytes, has_attach
		FROM emails WHERE source = ? AND source_uid = ?`,
		source, sourceUID,
	).Scan(
		&m.ID, &m.Source, &m.SourceUID, &m.MessageID, &m.DateTS, &m.FromName, &m.FromEmail,
		&toJSON, &ccJSON, &m.Subject, &m.Snippet, &m.BodyText, &m.BodyHash, &m.SizeBytes, &hasAttach,
	)
	if err == sql.ErrNoRows {
		return nil, consts.ErrDBNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	m.HasAttach = hasAttach != 0
	if err := json.Unmarshal([]byte(toJSON), &m.ToList); err != nil {
		m.ToList = nil
	}
	if err := json.Unmarshal([]byte(ccJSON), &m.CcList); err != nil {
		m.CcList = nil
	}
	return m, nil
}

// MessageCount returns the total number of message rows.
func (d *Database) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// FTSCount returns the number of FTS shadow entries. Always equal to
// MessageCount when the store is consistent.
func (d *Database) FTSCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails_fts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count FTS entries: %w", err)
	}
	return n, nil
}

// ListMessages returns the newest messages, most recent first.
func (d *Database) ListMessages(ctx context.Context, limit int) ([]MessageSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	d.logQuery("SELECT recent messages", limit)
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, date_ts, from_email, subject, snippet
		FROM emails ORDER BY date_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SearchMessages runs an FTS5 match over subject and body.
func (d *Database) SearchMessages(ctx context.Context, query string, limit int) ([]MessageSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	d.logQuery("SELECT messages MATCH", query, limit)
	rows, err := d.conn.QueryContext(ctx, `
		SELECT e.id, e.date_ts, e.from_email, e.subject, e.snippet
		FROM emails_fts f
		JOIN emails e ON e.id = f.rowid
		WHERE emails_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]MessageSummary, error) {
	var result []MessageSummary
	for rows.Next() {
		var s MessageSummary
		if err := rows.Scan(&s.ID, &s.DateTS, &s.FromEmail, &s.Subject, &s.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// marshalAddresses always stores a JSON array, never a JSON null, so that
// json_array_length() works on every row.
func marshalAddresses(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	out, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
