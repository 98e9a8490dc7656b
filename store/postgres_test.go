// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: db, table: "budgets"}, mock
}

func TestPostgresStore_PutUsesUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO budgets").
		WithArgs("o1:org", []byte(`{"x":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Put(context.Background(), "o1:org", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissingReturnsNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT data FROM budgets").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, found, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListOrdersByCreatedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"n":1}`)).
		AddRow([]byte(`{"n":2}`))
	mock.ExpectQuery("SELECT data FROM budgets WHERE key LIKE .+ ORDER BY created_at ASC").
		WithArgs("o1:%").
		WillReturnRows(rows)

	vals, err := s.List(context.Background(), "o1:")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
