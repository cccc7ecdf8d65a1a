package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waxal/smsgateway/internal/domain"
	"github.com/waxal/smsgateway/pkg/codes"
)

// Postgres implements the store interfaces on a pgx connection pool.
// Counter math happens inside UPDATE statements so concurrent dispatch
// workers and receipt processors never race on read-modify-write.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ MessageStore = (*Postgres)(nil)
	_ BatchStore   = (*Postgres)(nil)
	_ AttemptStore = (*Postgres)(nil)
	_ ChannelStore = (*Postgres)(nil)
)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}


func (p *Postgres) CreateMessage(ctx context.Context, msg *domain.OutboundMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO outbound_messages
			(id, batch_id, user_id, sender_id, recipient_raw, recipient, body, data_coding, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.BatchID, msg.UserID, msg.SenderID, msg.RecipientRaw, msg.Recipient,
		msg.Body, int16(msg.DataCoding), string(msg.State), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbound message: %w", err)
	}
	return nil
}

func (p *Postgres) MarkSubmitted(ctx context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET carrier_message_id = $2, state = 'SUBMITTED', sent_at = $3, last_error = NULL
		WHERE id = $1 AND carrier_message_id IS NULL`,
		id, carrierMessageID, sentAt)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("store: carrier message id already assigned or message missing")
	}
	return nil
}

func (p *Postgres) MarkSubmitFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outbound_messages SET state = 'REJECTED', last_error = $2 WHERE id = $1`,
		id, lastError)
	if err != nil {
		return fmt.Errorf("mark submit failed: %w", err)
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboundMessage, error) {
	return p.scanMessage(p.pool.QueryRow(ctx, selectMessage+` WHERE id = $1`, id))
}

func (p *Postgres) GetByCarrierMessageID(ctx context.Context, carrierMessageID string) (*domain.OutboundMessage, error) {
	return p.scanMessage(p.pool.QueryRow(ctx, selectMessage+` WHERE carrier_message_id = $1`, carrierMessageID))
}

const selectMessage = `
	SELECT id, batch_id, user_id, sender_id, recipient_raw, recipient, body, data_coding,
	       carrier_message_id, state, last_error, sent_at, processed_at, created_at
	FROM outbound_messages`

func (p *Postgres) scanMessage(row pgx.Row) (*domain.OutboundMessage, error) {
	var msg domain.OutboundMessage
	var dataCoding int16
	var state string
	err := row.Scan(&msg.ID, &msg.BatchID, &msg.UserID, &msg.SenderID, &msg.RecipientRaw,
		&msg.Recipient, &msg.Body, &dataCoding, &msg.CarrierMessageID, &state,
		&msg.LastError, &msg.SentAt, &msg.ProcessedAt, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan outbound message: %w", err)
	}
	msg.DataCoding = byte(dataCoding)
	msg.State = codes.DeliveryState(state)
	return &msg, nil
}

func (p *Postgres) UpdateDeliveryState(ctx context.Context, id uuid.UUID, state codes.DeliveryState, lastError *string, processedAt time.Time) (codes.DeliveryState, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin delivery-state tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock makes prior-state read and transition one atomic step, so
	// two receipts for the same message cannot both count.
	var prior string
	err = tx.QueryRow(ctx, `
		SELECT state FROM outbound_messages WHERE id = $1 FOR UPDATE`, id).Scan(&prior)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("lock message for receipt: %w", err)
	}
	priorState := codes.DeliveryState(prior)
	// First terminal wins: a later receipt never moves the state again.
	if priorState.IsTerminal() {
		return priorState, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE outbound_messages
		SET state = $2, last_error = $3, processed_at = $4
		WHERE id = $1`,
		id, string(state), lastError, processedAt); err != nil {
		return "", false, fmt.Errorf("update delivery state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit delivery state: %w", err)
	}
	return priorState, true, nil
}

func (p *Postgres) ListRetryable(ctx context.Context, batchID uuid.UUID) ([]domain.OutboundMessage, error) {
	rows, err := p.pool.Query(ctx, selectMessage+`
		WHERE batch_id = $1 AND state IN ('REJECTED','UNKNOWN')
		ORDER BY created_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list retryable: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboundMessage
	for rows.Next() {
		msg, err := p.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func (p *Postgres) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET carrier_message_id = NULL, state = 'CREATED', last_error = NULL,
		    sent_at = NULL, processed_at = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset message for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SweepStale(ctx context.Context, cutoff time.Time, note string) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE outbound_messages
		SET state = 'UNKNOWN', last_error = $2, processed_at = now()
		WHERE state = 'SUBMITTED' AND sent_at < $1
		RETURNING batch_id`,
		cutoff, note)
	if err != nil {
		return 0, fmt.Errorf("sweep stale messages: %w", err)
	}
	var swept int64
	perBatch := make(map[uuid.UUID]int64)
	for rows.Next() {
		var batchID *uuid.UUID
		if err := rows.Scan(&batchID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan swept batch id: %w", err)
		}
		swept++
		if batchID != nil {
			perBatch[*batchID]++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sweep stale messages: %w", err)
	}

	for batchID, n := range perBatch {
		if _, err := tx.Exec(ctx, `
			UPDATE batches SET unknown_count = unknown_count + $2 WHERE id = $1`, batchID, n); err != nil {
			return 0, fmt.Errorf("bump swept batch counters: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep tx: %w", err)
	}
	return swept, nil
}

func (p *Postgres) CreateBatch(ctx context.Context, b *domain.Batch) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO batches
			(id, user_id, total_count, sent_count, delivered_count, failed_count, unknown_count,
			 pending_count, status, retry_count, in_process, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.UserID, b.Total, b.Sent, b.Delivered, b.Failed, b.Unknown,
		b.Pending, string(b.Status), b.RetryCount, b.InProcess, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (p *Postgres) GetBatch(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	var b domain.Batch
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, total_count, sent_count, delivered_count, failed_count, unknown_count,
		       pending_count, status, retry_count, in_process, created_at
		FROM batches WHERE id = $1`, id).
		Scan(&b.ID, &b.UserID, &b.Total, &b.Sent, &b.Delivered, &b.Failed, &b.Unknown,
			&b.Pending, &status, &b.RetryCount, &b.InProcess, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	b.Status = codes.BatchStatus(status)
	return &b, nil
}

func (p *Postgres) ApplyDelta(ctx context.Context, id uuid.UUID, d BatchDelta) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE batches SET
			sent_count      = sent_count + $2,
			delivered_count = delivered_count + $3,
			failed_count    = failed_count + $4,
			unknown_count   = unknown_count + $5,
			pending_count   = pending_count + $6
		WHERE id = $1`,
		id, d.Sent, d.Delivered, d.Failed, d.Unknown, d.Pending)
	if err != nil {
		return fmt.Errorf("apply batch delta: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, status codes.BatchStatus) error {
	_, err := p.pool.Exec(ctx, `UPDATE batches SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

func (p *Postgres) TryMarkInProcess(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE batches SET in_process = TRUE WHERE id = $1 AND in_process = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("mark batch in process: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ClearInProcess(ctx context.Context, id uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `UPDATE batches SET in_process = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear batch in process: %w", err)
	}
	return nil
}

func (p *Postgres) IncrementRetryCount(ctx context.Context, id uuid.UUID) (int32, error) {
	var n int32
	err := p.pool.QueryRow(ctx, `
		UPDATE batches SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment retry count: %w", err)
	}
	return n, nil
}

func (p *Postgres) CreateAttempt(ctx context.Context, a *domain.AttemptRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO batch_attempts
			(id, batch_id, retry_ordinal, started_at, status)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.BatchID, a.RetryOrdinal, a.StartedAt, string(a.Status))
	if err != nil {
		return fmt.Errorf("insert attempt record: %w", err)
	}
	return nil
}

func (p *Postgres) CloseAttempt(ctx context.Context, a *domain.AttemptRecord) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE batch_attempts SET
			ended_at = $2, duration_secs = $3, success_count = $4, failed_count = $5,
			pending_count = $6, last_error = $7, status = $8
		WHERE id = $1`,
		a.ID, a.EndedAt, a.DurationSecs, a.SuccessCount, a.FailedCount,
		a.PendingCount, a.LastError, string(a.Status))
	if err != nil {
		return fmt.Errorf("close attempt record: %w", err)
	}
	return nil
}

func (p *Postgres) ListAttempts(ctx context.Context, batchID uuid.UUID) ([]domain.AttemptRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, batch_id, retry_ordinal, started_at, ended_at, duration_secs,
		       success_count, failed_count, pending_count, last_error, status
		FROM batch_attempts WHERE batch_id = $1 ORDER BY retry_ordinal`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var a domain.AttemptRecord
		var status string
		var endedAt *time.Time
		var durationSecs *int64
		err := rows.Scan(&a.ID, &a.BatchID, &a.RetryOrdinal, &a.StartedAt, &endedAt, &durationSecs,
			&a.SuccessCount, &a.FailedCount, &a.PendingCount, &a.LastError, &status)
		if err != nil {
			return nil, fmt.Errorf("scan attempt record: %w", err)
		}
		a.EndedAt = endedAt
		if durationSecs != nil {
			a.DurationSecs = *durationSecs
		}
		a.Status = codes.AttemptStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) GetChannelConfig(ctx context.Context, userID uuid.UUID) (*domain.ChannelConfig, error) {
	var cfg domain.ChannelConfig
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, host, port, system_id, encrypted_password, verified
		FROM channel_configs WHERE user_id = $1`, userID).
		Scan(&cfg.UserID, &cfg.Host, &cfg.Port, &cfg.SystemID, &cfg.EncryptedPassword, &cfg.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select channel config: %w", err)
	}
	return &cfg, nil
}
