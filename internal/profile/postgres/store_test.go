package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizhub/accounts/internal/domain"
)

func newStoreFixture(t *testing.T) (*ProfileStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewProfileStore(mock), mock
}

func sampleRecord() domain.ProfileRecord {
	return domain.NewProfileRecord(
		domain.Identity{ID: "u1", Email: "a@x.com"},
		domain.ProfileFields{FirstName: "Ada", LastName: "Lovelace"},
		time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	)
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestProfileStore_Exists(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_Exists_Unavailable(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Exists(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorContains(t, err, "connection reset")
}

// ---------------------------------------------------------------------------
// Put
// ---------------------------------------------------------------------------

func TestProfileStore_Put(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	rec := sampleRecord()
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO profiles .+ ON CONFLICT \\(identity_id\\) DO UPDATE .+COALESCE\\(profiles\\.document->'createdAt', EXCLUDED\\.document->'createdAt'\\)").
		WithArgs("u1", doc, rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), "u1", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_Put_Unavailable(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO profiles").
		WillReturnError(errors.New("timeout"))

	err := store.Put(context.Background(), "u1", sampleRecord())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestProfileStore_Create(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	rec := sampleRecord()
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO profiles .+ ON CONFLICT \\(identity_id\\) DO NOTHING").
		WithArgs("u1", doc, rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := store.Create(context.Background(), "u1", rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_Create_AlreadyStored(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO profiles .+ ON CONFLICT \\(identity_id\\) DO NOTHING").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.Create(context.Background(), "u1", sampleRecord())
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_Create_Unavailable(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO profiles").
		WillReturnError(errors.New("timeout"))

	_, err := store.Create(context.Background(), "u1", sampleRecord())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestProfileStore_Get(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	rec := sampleRecord()
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document FROM profiles WHERE identity_id =").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(doc))

	got, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStore_Get_NotFound(t *testing.T) {
	store, mock := newStoreFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT document FROM profiles").
		WithArgs("u2").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "u2")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}
