package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
)

var deliveryCols = []string{
	"message_id", "channel", "recipient", "template", "status", "provider", "provider_message_id",
	"retry_count", "error_log", "created_at", "sent_at", "delivered_at", "read_at", "metadata",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func TestDeliveryGetByMessageIDAbsent(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}

	mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_records WHERE message_id=$1")).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(deliveryCols))

	rec, err := repo.GetByMessageID(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryGetByMessageIDDecodesMetadata(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_records WHERE message_id=$1")).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(deliveryCols).AddRow(
			"m-1", "mail", "a@example.com", "welcome", "sent", "smtp", "<x@y>",
			0, nil, created, created, nil, nil, []byte(`{"brand_id":"b1"}`),
		))

	rec, err := repo.GetByMessageID(context.Background(), "m-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusSent, rec.Status)
	assert.Equal(t, "smtp", *rec.Provider)
	assert.Nil(t, rec.DeliveredAt)
	assert.Equal(t, "b1", rec.Metadata.String("brand_id"))
}

func TestDeliveryCreateDuplicate(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}

	mock.ExpectExec("INSERT INTO delivery_records").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &model.DeliveryRecord{
		MessageID: "m-1", Channel: model.ChannelMail, Recipient: "a@example.com", Status: model.StatusQueued,
	})
	assert.ErrorIs(t, err, appErrors.ErrDuplicate)
}

func TestDeliveryMarkSentDeductsCreditsInSameTx(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}
	now := time.Now().UTC()
	provider, pid := "sendgrid", "sg-1"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE brand_credits").
		WithArgs(2, "brand-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(model.StatusSent, now, provider, pid, 1, nil, "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkSent(context.Background(), &model.DeliveryRecord{
		MessageID: "m-1", Status: model.StatusSent, SentAt: &now,
		Provider: &provider, ProviderMessageID: &pid, RetryCount: 1,
	}, &model.CreditCharge{BrandID: "brand-1", Amount: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryMarkSentKeepsAdvancedStatus(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}
	now := time.Now().UTC()
	provider, pid := "sendgrid", "sg-1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET status = CASE WHEN status IN ('queued', 'retrying') THEN $1 ELSE status END,`) +
		`\s+` + regexp.QuoteMeta(`sent_at = COALESCE(sent_at, $2)`)).
		WithArgs(model.StatusSent, now, provider, pid, 0, nil, "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkSent(context.Background(), &model.DeliveryRecord{
		MessageID: "m-1", Status: model.StatusSent, SentAt: &now,
		Provider: &provider, ProviderMessageID: &pid,
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryMarkSentRollsBackOnFailure(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE delivery_records").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.MarkSent(context.Background(), &model.DeliveryRecord{MessageID: "m-1", Status: model.StatusSent}, nil)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryApplyStatusFallsBackToMessageID(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}
	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE provider=$1 AND provider_message_id=$2 FOR UPDATE")).
		WithArgs("whatsapp", "m-1").
		WillReturnRows(sqlmock.NewRows(deliveryCols))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE message_id=$1 FOR UPDATE")).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows(deliveryCols).AddRow(
			"m-1", "chat", "+15550001111", "order_update", "sent", "whatsapp", "wamid.1",
			0, nil, sent, sent, nil, nil, []byte(`{}`),
		))
	mock.ExpectExec("UPDATE delivery_records").
		WithArgs(model.StatusDelivered, sent, sqlmock.AnyArg(), nil, "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, changed, err := repo.ApplyStatus(context.Background(), "whatsapp", "m-1", func(r *model.DeliveryRecord) bool {
		return r.Advance(model.StatusDelivered, time.Now())
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StatusDelivered, rec.Status)
	assert.NotNil(t, rec.DeliveredAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryApplyStatusNoChangeSkipsWrite(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(deliveryCols).AddRow(
			"m-1", "chat", "+15550001111", "order_update", "read", "whatsapp", "wamid.1",
			0, nil, ts, ts, ts, ts, []byte(`{}`),
		))
	mock.ExpectCommit()

	_, changed, err := repo.ApplyStatus(context.Background(), "whatsapp", "wamid.1", func(r *model.DeliveryRecord) bool {
		return r.Advance(model.StatusDelivered, time.Now())
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryApplyStatusNotFound(t *testing.T) {
	conn, mock := newMock(t)
	repo := &DeliveryRecordRepository{DB: conn}

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(deliveryCols))
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(deliveryCols))
	mock.ExpectRollback()

	_, _, err := repo.ApplyStatus(context.Background(), "twilio", "SM404", func(*model.DeliveryRecord) bool { return true })
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRemaining(t *testing.T) {
	conn, mock := newMock(t)
	repo := &CreditRepository{DB: conn}

	mock.ExpectQuery("SELECT remaining FROM brand_credits").
		WithArgs("brand-1").
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(7))
	mock.ExpectQuery("SELECT remaining FROM brand_credits").
		WithArgs("brand-2").
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}))

	n, err := repo.Remaining(context.Background(), "brand-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = repo.Remaining(context.Background(), "brand-2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
