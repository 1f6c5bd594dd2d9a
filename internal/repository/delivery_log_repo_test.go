package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormDeliveryLogRepoCreate(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	mock.ExpectExec(`INSERT INTO "delivery_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &domain.DeliveryLog{
		ID:          "log-1",
		TenantID:    "T1",
		Channel:     domain.ChannelEmail,
		Destination: "a@x.io",
		Subject:     "Hi",
		Body:        "hello",
		Status:      domain.DeliveryPending,
		Provider:    "smtp",
	}
	require.NoError(t, repo.Create(context.Background(), log))
	assert.Equal(t, "log-1", log.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeliveryLogRepoUpdateStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		rowsAffected int64
		existing     int
		wantErr      error
	}{
		{name: "legal transition", rowsAffected: 1},
		{name: "unknown id", rowsAffected: 0, existing: 0, wantErr: domain.ErrNotFound},
		{name: "illegal transition", rowsAffected: 0, existing: 1, wantErr: domain.ErrInvalidTransition},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMockDB(t)
			repo := NewGormDeliveryLogRepo(db)

			mock.ExpectExec(`UPDATE "delivery_logs" SET .* WHERE .*status IN`).
				WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))
			if tc.rowsAffected == 0 {
				mock.ExpectQuery(`SELECT count\(\*\) FROM "delivery_logs" WHERE id = `).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tc.existing))
			}

			msgID := "abc123"
			err := repo.UpdateStatus(context.Background(), "log-1", StatusUpdate{
				Status:            domain.DeliverySent,
				ProviderMessageID: &msgID,
			})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStatusUpdateColumns(t *testing.T) {
	t.Parallel()

	detail := "boom"
	next := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	failed := statusUpdateColumns(StatusUpdate{Status: domain.DeliveryFailed, ErrorDetail: &detail, NextRetryAt: &next})
	assert.Equal(t, &detail, failed["error_detail"])
	assert.Equal(t, &next, failed["next_retry_at"])
	assert.NotContains(t, failed, "attempt_count")

	pending := statusUpdateColumns(StatusUpdate{Status: domain.DeliveryPending, ErrorDetail: &detail, NextRetryAt: &next})
	assert.Nil(t, pending["error_detail"])
	assert.Nil(t, pending["next_retry_at"])
	assert.Contains(t, pending, "attempt_count")

	msgID := "m-1"
	sent := statusUpdateColumns(StatusUpdate{Status: domain.DeliverySent, ProviderMessageID: &msgID})
	assert.Equal(t, &msgID, sent["provider_message_id"])
	assert.Nil(t, sent["error_detail"])
	assert.Nil(t, sent["next_retry_at"])
}

func TestGormDeliveryLogRepoGetByIDRestoresReplayContent(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	next := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "delivery_logs" WHERE id = \$1`).
		WithArgs("log-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "channel", "destination", "subject", "body",
			"html_body", "data", "priority", "status", "provider", "attempt_count", "next_retry_at",
		}).AddRow(
			"log-1", "T1", "push", "tok-1", "Title", "text",
			"<p>text</p>", []byte(`{"orderId":"42"}`), "high", "failed", "fcm", 2, next,
		))

	log, err := repo.GetByID(context.Background(), "log-1")
	require.NoError(t, err)
	assert.Equal(t, "<p>text</p>", log.HTMLBody)
	assert.Equal(t, map[string]string{"orderId": "42"}, log.Data)
	assert.Equal(t, domain.PriorityHigh, log.Priority)
	require.NotNil(t, log.NextRetryAt)
	assert.True(t, log.NextRetryAt.Equal(next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeliveryLogRepoListFailedForRetry(t *testing.T) {
	t.Parallel()

	t.Run("due retries skip capped rows", func(t *testing.T) {
		t.Parallel()

		db, mock := newMockDB(t)
		repo := NewGormDeliveryLogRepo(db)

		now := time.Now().UTC()
		mock.ExpectQuery(`SELECT \* FROM "delivery_logs" WHERE .*attempt_count < \$4.*next_retry_at IS NOT NULL AND next_retry_at <= \$5.* ORDER BY next_retry_at ASC,\s?created_at ASC LIMIT \$6`).
			WithArgs(domain.DeliveryFailed, domain.ChannelSMS, sqlmock.AnyArg(), 5, sqlmock.AnyArg(), 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "status"}).AddRow("log-1", "sms", "failed"))

		logs, err := repo.ListFailedForRetry(context.Background(), RetryQuery{
			Channel:     domain.ChannelSMS,
			Since:       now.Add(-24 * time.Hour),
			MaxAttempts: 5,
			DueBy:       &now,
			Limit:       50,
		})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "log-1", logs[0].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tenant scoped oldest first", func(t *testing.T) {
		t.Parallel()

		db, mock := newMockDB(t)
		repo := NewGormDeliveryLogRepo(db)

		mock.ExpectQuery(`SELECT \* FROM "delivery_logs" WHERE .*tenant_id = \$4.*attempt_count < \$5 ORDER BY created_at ASC LIMIT \$6`).
			WithArgs(domain.DeliveryFailed, domain.ChannelEmail, sqlmock.AnyArg(), "T1", 3, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		logs, err := repo.ListFailedForRetry(context.Background(), RetryQuery{
			TenantID:    "T1",
			Channel:     domain.ChannelEmail,
			Since:       time.Now().Add(-time.Hour),
			MaxAttempts: 3,
			Limit:       10,
		})
		require.NoError(t, err)
		assert.Empty(t, logs)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormDeliveryLogRepoDeleteOlderThanNeverTouchesPending(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	deleted, err := repo.DeleteOlderThan(
		context.Background(),
		"",
		domain.ChannelEmail,
		time.Now(),
		[]domain.DeliveryStatus{domain.DeliveryPending},
	)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	mock.ExpectExec(`DELETE FROM "delivery_logs" WHERE .*status IN \(\$\d+,\$\d+\)`).
		WithArgs(domain.ChannelEmail, sqlmock.AnyArg(), domain.DeliverySent, domain.DeliveryFailed).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err = repo.DeleteOlderThan(
		context.Background(),
		"",
		domain.ChannelEmail,
		time.Now(),
		[]domain.DeliveryStatus{domain.DeliverySent, domain.DeliveryPending, domain.DeliveryFailed},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 7, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeliveryLogRepoList(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	channel := domain.ChannelSMS
	mock.ExpectQuery(`SELECT count\(\*\) FROM "delivery_logs" WHERE .*destination ILIKE`).
		WithArgs("T1", channel, `%+90\_5%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "channel", "destination", "status", "provider", "created_at"}).
		AddRow("l2", "T1", "sms", "+90_55", "sent", "twilio", now).
		AddRow("l1", "T1", "sms", "+90_56", "failed", "twilio", now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT \* FROM "delivery_logs" WHERE .* ORDER BY created_at DESC`).
		WillReturnRows(rows)

	logs, total, err := repo.List(context.Background(), DeliveryLogFilter{
		TenantID:    "T1",
		Channel:     &channel,
		Destination: "+90_5",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "l2", logs[0].ID)
	assert.Equal(t, domain.DeliveryFailed, logs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeliveryLogRepoCountByStatus(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) as count FROM "delivery_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("sent", 3).
			AddRow("failed", 1))

	counts, err := repo.CountByStatus(context.Background(), "T1", domain.ChannelEmail)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts[domain.DeliveryPending])
	assert.EqualValues(t, 3, counts[domain.DeliverySent])
	assert.EqualValues(t, 1, counts[domain.DeliveryFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeliveryLogRepoDeleteNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeliveryLogRepo(db)

	mock.ExpectExec(`DELETE FROM "delivery_logs"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "T1", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `100\%\_a\\b`, escapeLike(`100%_a\b`))
}
