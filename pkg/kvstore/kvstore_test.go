package kvstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDeleteList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "ns", "k", []byte("v1")))
	v, ok, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Set(ctx, "ns", "k2", []byte("v2")))
	all, err := s.List(ctx, "ns")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "ns", "k"))
	_, ok, err = s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_NamespaceIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", "k", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", "k", []byte("2")))

	va, _, _ := s.Get(ctx, "a", "k")
	vb, _, _ := s.Get(ctx, "b", "k")
	assert.Equal(t, []byte("1"), va)
	assert.Equal(t, []byte("2"), vb)
}

func TestPostgresStore_SetUsesUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := &PostgresStore{db: db}

	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs("audit_log", "_head", []byte("payload")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "audit_log", "_head", []byte("payload")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := &PostgresStore{db: db}

	mock.ExpectQuery("SELECT value FROM kv_entries").
		WithArgs("ns", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := store.Get(context.Background(), "ns", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
