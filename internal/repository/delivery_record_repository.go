package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/creatorsync/internal/db"
	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
)

type DeliveryRecordRepositoryInterface interface {
	GetByMessageID(ctx context.Context, messageID string) (*model.DeliveryRecord, error)
	Create(ctx context.Context, rec *model.DeliveryRecord) error
	UpdateAttempt(ctx context.Context, rec *model.DeliveryRecord) error
	MarkSent(ctx context.Context, rec *model.DeliveryRecord, charge *model.CreditCharge) error
	ApplyStatus(ctx context.Context, provider, id string, apply func(*model.DeliveryRecord) bool) (*model.DeliveryRecord, bool, error)
}

type DeliveryRecordRepository struct {
	DB *sql.DB
}

const deliveryColumns = `message_id, channel, recipient, template, status, provider, provider_message_id,
        retry_count, error_log, created_at, sent_at, delivered_at, read_at, metadata`

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliveryRecord(row rowScanner) (*model.DeliveryRecord, error) {
	var (
		rec  model.DeliveryRecord
		meta []byte
	)
	err := row.Scan(
		&rec.MessageID,
		&rec.Channel,
		&rec.Recipient,
		&rec.Template,
		&rec.Status,
		&rec.Provider,
		&rec.ProviderMessageID,
		&rec.RetryCount,
		&rec.ErrorLog,
		&rec.CreatedAt,
		&rec.SentAt,
		&rec.DeliveredAt,
		&rec.ReadAt,
		&meta,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.MessageID, err)
		}
	}
	return &rec, nil
}

// GetByMessageID returns nil, nil when no record exists.
func (r *DeliveryRecordRepository) GetByMessageID(ctx context.Context, messageID string) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE message_id=$1`
	rec, err := scanDeliveryRecord(r.DB.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Create inserts the record. A second insert of the same message_id returns
// ErrDuplicate.
func (r *DeliveryRecordRepository) Create(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO delivery_records
        (message_id, channel, recipient, template, status, retry_count, error_log, created_at, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err = r.DB.ExecContext(ctx, query,
		rec.MessageID,
		rec.Channel,
		rec.Recipient,
		rec.Template,
		rec.Status,
		rec.RetryCount,
		rec.ErrorLog,
		rec.CreatedAt,
		meta,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("delivery record %s: %w", rec.MessageID, appErrors.ErrDuplicate)
		}
		return err
	}
	return nil
}

// UpdateAttempt stores the outcome of a failed attempt.
func (r *DeliveryRecordRepository) UpdateAttempt(ctx context.Context, rec *model.DeliveryRecord) error {
	query := `
        UPDATE delivery_records
        SET status=$1, retry_count=$2, error_log=$3
        WHERE message_id=$4
    `
	_, err := r.DB.ExecContext(ctx, query, rec.Status, rec.RetryCount, rec.ErrorLog, rec.MessageID)
	return err
}

// MarkSent records a successful send and, for credit-gated sends, deducts
// the charge in the same transaction. The balance floors at zero: the message
// has already left by the time this runs. Only a queued or retrying status
// is moved to sent.
func (r *DeliveryRecordRepository) MarkSent(ctx context.Context, rec *model.DeliveryRecord, charge *model.CreditCharge) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if charge != nil && charge.Amount > 0 {
			_, err := tx.ExecContext(ctx, `
                UPDATE brand_credits
                SET remaining = GREATEST(remaining - $1, 0), updated_at = NOW()
                WHERE brand_id = $2
            `, charge.Amount, charge.BrandID)
			if err != nil {
				return fmt.Errorf("deduct credits for %s: %w", charge.BrandID, err)
			}
		}

		// A status callback matched by message_id can land before this commit;
		// a status it already advanced is kept.
		_, err := tx.ExecContext(ctx, `
            UPDATE delivery_records
            SET status = CASE WHEN status IN ('queued', 'retrying') THEN $1 ELSE status END,
                sent_at = COALESCE(sent_at, $2),
                provider=$3, provider_message_id=$4, retry_count=$5, error_log=$6
            WHERE message_id=$7
        `, rec.Status, rec.SentAt, rec.Provider, rec.ProviderMessageID, rec.RetryCount, rec.ErrorLog, rec.MessageID)
		if err != nil {
			return fmt.Errorf("mark %s sent: %w", rec.MessageID, err)
		}
		return nil
	})
}

// ApplyStatus locks the record matching (provider, id), falling back to
// message_id = id, and lets apply mutate it. Changes are written back in the
// same transaction. ErrNotFound is returned when neither lookup matches.
func (r *DeliveryRecordRepository) ApplyStatus(ctx context.Context, provider, id string, apply func(*model.DeliveryRecord) bool) (*model.DeliveryRecord, bool, error) {
	var (
		rec     *model.DeliveryRecord
		changed bool
	)
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		rec, err = scanDeliveryRecord(tx.QueryRowContext(ctx,
			`SELECT `+deliveryColumns+` FROM delivery_records
             WHERE provider=$1 AND provider_message_id=$2 FOR UPDATE`, provider, id))
		if err == sql.ErrNoRows {
			rec, err = scanDeliveryRecord(tx.QueryRowContext(ctx,
				`SELECT `+deliveryColumns+` FROM delivery_records WHERE message_id=$1 FOR UPDATE`, id))
		}
		if err == sql.ErrNoRows {
			return fmt.Errorf("delivery record for %s/%s: %w", provider, id, appErrors.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if changed = apply(rec); !changed {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_records
            SET status=$1, sent_at=$2, delivered_at=$3, read_at=$4
            WHERE message_id=$5
        `, rec.Status, rec.SentAt, rec.DeliveredAt, rec.ReadAt, rec.MessageID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, changed, nil
}

func encodeMetadata(m model.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

var _ DeliveryRecordRepositoryInterface = (*DeliveryRecordRepository)(nil)
