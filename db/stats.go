package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Rows written before the store normalized timestamps may carry epoch
// seconds instead of milliseconds; normTS lifts those at read time so the
// insight queries never compare mixed units.
const normTS = "CASE WHEN date_ts > 1000000000000 THEN date_ts ELSE date_ts * 1000 END"

// Overview summarizes the whole store.
type Overview struct {
	TotalMessages   int64 `json:"total_messages"`
	UniqueSenders   int64 `json:"unique_senders"`
	WithAttachments int64 `json:"with_attachments"`
	OldestTS        int64 `json:"oldest_ts"`
	NewestTS        int64 `json:"newest_ts"`
}

// SenderStat is one sender's aggregate in the top-senders view.
type SenderStat struct {
	FromEmail string `json:"from_email"`
	Count     int64  `json:"count"`
	LastTS    int64  `json:"last_ts"`
}

// RecipientBucket groups messages by how many direct recipients they had:
// "1", "2-5" or "6+".
type RecipientBucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// GetOverview returns store-wide totals and the time span covered.
func (d *Database) GetOverview(ctx context.Context) (*Overview, error) {
	o := &Overview{}
	d.logQuery("SELECT overview")
	err := d.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(DISTINCT from_email),
		       COALESCE(SUM(has_attach), 0),
		       COALESCE(MIN(%s), 0),
		       COALESCE(MAX(%s), 0)
		FROM emails`, normTS, normTS),
	).Scan(&o.TotalMessages, &o.UniqueSenders, &o.WithAttachments, &o.OldestTS, &o.NewestTS)
	if err != nil {
		return nil, fmt.Errorf("failed to compute overview: %w", err)
	}
	return o, nil
}

// GetTopSenders returns the most frequent senders with their latest activity.
func (d *Database) GetTopSenders(ctx context.Context, limit int) ([]SenderStat, error) {
	if limit <= 0 {
		limit = 20
	}
	d.logQuery("SELECT top senders", limit)
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT from_email, COUNT(*) AS n, MAX(%s) AS last_ts
		FROM emails
		WHERE from_email != ''
		GROUP BY from_email
		ORDER BY n DESC, last_ts DESC
		LIMIT ?`, normTS), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top senders: %w", err)
	}
	defer rows.Close()
	return scanSenderStats(rows)
}

// GetDormantSenders returns senders whose most recent message is older than
// the given cutoff (epoch milliseconds), most active first.
func (d *Database) GetDormantSenders(ctx context.Context, cutoffMillis int64, limit int) ([]SenderStat, error) {
	if limit <= 0 {
		limit = 20
	}
	d.logQuery("SELECT dormant senders", cutoffMillis, limit)
	rows, err := d.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT from_email, COUNT(*) AS n, MAX(%s) AS last_ts
		FROM emails
		WHERE from_email != ''
		GROUP BY from_email
		HAVING last_ts < ?
		ORDER BY n DESC, last_ts ASC
		LIMIT ?`, normTS), cutoffMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dormant senders: %w", err)
	}
	defer rows.Close()
	return scanSenderStats(rows)
}

// GetRecipientBuckets groups messages by direct (To) recipient count.
func (d *Database) GetRecipientBuckets(ctx context.Context) ([]RecipientBucket, error) {
	d.logQuery("SELECT recipient buckets")
	rows, err := d.conn.QueryContext(ctx, `
		SELECT CASE
		           WHEN json_array_length(to_json) <= 1 THEN '1'
		           WHEN json_array_length(to_json) <= 5 THEN '2-5'
		           ELSE '6+'
		       END AS bucket,
		       COUNT(*) AS n
		FROM emails
		GROUP BY bucket
		ORDER BY MIN(json_array_length(to_json)) ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute recipient buckets: %w", err)
	}
	defer rows.Close()

	var result []RecipientBucket
	for rows.Next() {
		var b RecipientBucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan recipient bucket: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanSenderStats(rows *sql.Rows) ([]SenderStat, error) {
	var result []SenderStat
	for rows.Next() {
		var s SenderStat
		if err := rows.Scan(&s.FromEmail, &s.Count, &s.LastTS); err != nil {
			return nil, fmt.Errorf("failed to scan sender stat: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
