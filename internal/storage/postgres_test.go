package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

func newMockPostgres(t *testing.T) (*postgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newPostgresStore(db, logx.Nop()), mock
}

func TestPostgresSaveScheduleUpserts(t *testing.T) {
	st, mock := newMockPostgres(t)
	sc := sampleSchedule(t, "a", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules(id, status, next_execution_at, created_at, updated_at, doc)")).
		WithArgs("a", "active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.SaveSchedule(context.Background(), sc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendExecution(t *testing.T) {
	st, mock := newMockPostgres(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := sampleRecord("r1", "a", at, false)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executions(")).
		WithArgs("r1", "a", sqlmock.AnyArg(), "failed", "0", "0", "network_timeout", 1, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, st.AppendExecution(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadExecutions(t *testing.T) {
	st, mock := newMockPostgres(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "schedule_id", "attempted_at", "outcome", "converted_amount", "rate_applied", "failure_reason", "cycle", "attempt"}).
		AddRow("r1", "a", at, "success", "2875.500000000000000000", "1150200", nil, 0, 0).
		AddRow("r2", "a", at.Add(time.Minute), "failed", "0", "0", "venue_rejected", 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("FROM executions ORDER BY seq")).WillReturnRows(rows)

	recs, err := st.LoadExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, swap.OutcomeSuccess, recs[0].Outcome)
	assert.True(t, recs[0].ConvertedAmount.Equal(decimal.RequireFromString("2875.5")))
	assert.Equal(t, "", recs[0].FailureReason)
	assert.Equal(t, "venue_rejected", recs[1].FailureReason)
	assert.Equal(t, 2, recs[1].Attempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadSchedulesDecodesDocuments(t *testing.T) {
	st, mock := newMockPostgres(t)
	sc := sampleSchedule(t, "a", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	doc, err := encodeSchedule(sc)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM schedules")).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(doc)))

	got, err := st.LoadSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sc.ID, got[0].ID)
	assert.Equal(t, swap.FrequencyWeekly, got[0].Frequency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorsAreWrapped(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules")).
		WithArgs("a").
		WillReturnError(assert.AnError)

	err := st.DeleteSchedule(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "postgres delete schedule")
}
