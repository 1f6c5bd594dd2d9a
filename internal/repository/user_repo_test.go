package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormUserRepoGetByIDIsTenantScoped(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormUserRepo(db)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("T2", "u1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "username"}))

	_, err := repo.GetByID(context.Background(), "T2", "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeviceTokenRepoListTokens(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeviceTokenRepo(db)

	mock.ExpectQuery(`SELECT "token" FROM "device_tokens" WHERE tenant_id = \$1 AND user_id = \$2 ORDER BY created_at ASC`).
		WithArgs("T1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-a").AddRow("tok-b"))

	tokens, err := repo.ListTokens(context.Background(), "T1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDeviceTokenRepoDeleteNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormDeviceTokenRepo(db)

	mock.ExpectExec(`DELETE FROM "device_tokens" WHERE tenant_id = \$1 AND token = \$2`).
		WithArgs("T1", "tok-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "T1", "tok-x")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
