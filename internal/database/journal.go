package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var ErrMessageNotFound = errors.New("message not found")

// Message is one journal row.
type Message struct {
	ID           string
	Sender       string
	SchemaDigest string
	Status       Status
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// BeginMessage claims envelope id for processing. It returns false when the
// id is already done, failed or still being processed. A claim older than
// staleAfter that never finished is taken over.
func (d *Database) BeginMessage(
	ctx context.Context,
	id string,
	sender string,
	schemaDigest string,
	staleAfter time.Duration,
) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("message ID is empty")
	}

	now := time.Now().UTC()

	query := `insert or ignore into processed_messages
		(id, sender, schema_digest, status, started_at)
		values (?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query, id, sender, schemaDigest, StatusProcessing, now.Unix())
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if inserted > 0 {
		return true, nil
	}

	if staleAfter <= 0 {
		return false, nil
	}

	query = `update processed_messages
		set started_at = ?
		where id = ? and status = ? and started_at < ?`

	res, err = d.db.ExecContext(ctx, query,
		now.Unix(), id, StatusProcessing, now.Add(-staleAfter).Unix())
	if err != nil {
		return false, fmt.Errorf("reclaim message: %w", err)
	}

	reclaimed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	if reclaimed > 0 {
		d.log.WarnContext(ctx, "Stale message is reclaimed",
			"messageID", id,
			"sender", sender)
	}

	return reclaimed > 0, nil
}

func (d *Database) FinishMessage(ctx context.Context, id string, status Status, errText string) error {
	query := `update processed_messages
		set status = ?, error = ?, finished_at = ?
		where id = ?`

	res, err := d.db.ExecContext(ctx, query, status, errText, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	return nil
}

// ReleaseMessage drops an unfinished claim so a redelivery is handled again.
func (d *Database) ReleaseMessage(ctx context.Context, id string) error {
	query := "delete from processed_messages where id = ? and status = ?"

	if _, err := d.db.ExecContext(ctx, query, id, StatusProcessing); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (d *Database) GetMessage(ctx context.Context, id string) (Message, error) {
	query := `select id, sender, schema_digest, status, error, started_at, finished_at
		from processed_messages
		where id = ?`

	var (
		m          Message
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.Sender,
		&m.SchemaDigest,
		&status,
		&m.Error,
		&startedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}

	m.Status = Status(status)
	m.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		m.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC()
	}

	return m, nil
}

// PruneMessages removes finished rows started before cutoff.
func (d *Database) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `delete from processed_messages
		where status != ? and started_at < ?`

	res, err := d.db.ExecContext(ctx, query, StatusProcessing, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return deleted, nil
}
