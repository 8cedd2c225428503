package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/models"
)

func TestLogStore_InsertBatch_AssignsIDsAndCommits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO log_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO log_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewLogStore(db)
	logs := []models.LogInput{
		{Timestamp: time.Now(), Service: "api", Level: "info", Message: "one"},
		{Timestamp: time.Now(), Service: "api", Level: "error", Message: "two"},
	}

	out, err := store.InsertBatch(context.Background(), "tenant-a", "proj-1", logs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].ID)
	assert.NotEmpty(t, out[1].ID)
	assert.Equal(t, "tenant-a", out[0].Tenant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_InsertBatch_EmptyInputIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewLogStore(db)
	out, err := store.InsertBatch(context.Background(), "tenant-a", "proj-1", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_InsertBatch_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO log_records").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := NewLogStore(db)
	_, err = store.InsertBatch(context.Background(), "tenant-a", "proj-1", []models.LogInput{
		{Timestamp: time.Now(), Service: "api", Message: "one"},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_GetByIDs_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "tenant", "project", "timestamp", "service", "level", "message", "span_id", "attributes"}).
		AddRow("log-1", "tenant-a", "proj-1", time.Now(), "api", "info", "hello", "", []byte(`{"region":"us-east"}`))
	mock.ExpectQuery("SELECT .* FROM log_records").WillReturnRows(rows)

	store := NewLogStore(db)
	out, err := store.GetByIDs(context.Background(), "tenant-a", "proj-1", []string{"log-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "log-1", out[0].ID)
	region, ok := out[0].Attribute("region")
	require.True(t, ok)
	str, _ := region.AsString()
	assert.Equal(t, "us-east", str)
}

func TestLogStore_GetByIDs_EmptyInputIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewLogStore(db)
	out, err := store.GetByIDs(context.Background(), "tenant-a", "proj-1", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_ListByProject_FirstPageOmitsCursor(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "tenant", "project", "timestamp", "service", "level", "message", "span_id", "attributes"})
	mock.ExpectQuery("SELECT .* FROM log_records").WithArgs("tenant-a", "proj-1", 50).WillReturnRows(rows)

	store := NewLogStore(db)
	out, err := store.ListByProject(context.Background(), "tenant-a", "proj-1", 50, "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStore_ListByProject_WithCursorUsesBeforeID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "tenant", "project", "timestamp", "service", "level", "message", "span_id", "attributes"})
	mock.ExpectQuery("SELECT .* FROM log_records").WithArgs("tenant-a", "proj-1", "log-5", 50).WillReturnRows(rows)

	store := NewLogStore(db)
	_, err = store.ListByProject(context.Background(), "tenant-a", "proj-1", 50, "log-5")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
