package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestLeadInsertMapsUniqueViolationToConflict(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("INSERT INTO leads").
		WillReturnError(&pq.Error{Code: "23505"})

	err := st.Leads.Insert(context.Background(), &domain.Lead{
		TenantID: "t1", Email: "a@b.co", Source: domain.LeadSourcePixel, Status: domain.LeadIngested,
	})
	assert.Equal(t, ErrConflict, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadUpdateZeroRowsIsNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("UPDATE leads SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Leads.Update(context.Background(), &domain.Lead{ID: "l1", TenantID: "t1"})
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrationUpdateVersionConflict(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("UPDATE orchestration_states SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	orch := &domain.OrchestrationState{ID: "o1", Version: 3}
	err := st.Orchestration.Update(context.Background(), orch)
	assert.Equal(t, ErrVersionConflict, err)
	assert.Equal(t, 3, orch.Version, "version unchanged on conflict")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrationUpdateBumpsVersion(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("UPDATE orchestration_states SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	orch := &domain.OrchestrationState{ID: "o1", Version: 3}
	require.NoError(t, st.Orchestration.Update(context.Background(), orch))
	assert.Equal(t, 4, orch.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventDuplicateIsNotApplied(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("INSERT INTO orchestration_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := st.Orchestration.AppendEvent(context.Background(), &domain.OrchestrationEvent{
		TenantID: "t1", LeadID: "l1", EventType: "email_opened", SourceEventID: "wh-1",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReviewDuplicateAttemptIsNoop(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("INSERT INTO sequence_reviews").
		WillReturnResult(sqlmock.NewResult(0, 0))

	stored, err := st.Sequences.RecordReview(context.Background(), "t1", "s1", 1, domain.ReviewResult{})
	require.NoError(t, err)
	assert.False(t, stored, "second delivery of the same attempt must not re-store")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCampaignNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM campaigns").
		WillReturnError(sql.ErrNoRows)

	_, err := st.Campaigns.Get(context.Background(), "t1", "missing")
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignIncrementRejectsUnknownCounter(t *testing.T) {
	st, _ := newMock(t)
	err := st.Campaigns.Increment(context.Background(), "t1", "c1", "leads_dropped", 1)
	assert.Error(t, err)
}

func TestCountByStatusSince(t *testing.T) {
	st, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("active", 12).
		AddRow("replied", 3)
	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	counts, err := st.Leads.CountByStatusSince(context.Background(), "t1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 12, counts[domain.LeadActive])
	assert.Equal(t, 3, counts[domain.LeadReplied])
	assert.NoError(t, mock.ExpectationsWereMet())
}
