package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestCreateIntroRequestDuplicatePendingPair(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO intro_requests`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "intro_requests_pending_pair"})

	_, err := store.CreateIntroRequest(context.Background(), intro.Request{
		RequesterID: "alice",
		TargetID:    "bob",
		Status:      intro.StatusPending,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntroStatusIfLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE intro_requests`).
		WithArgs("req-1", intro.StatusPending, intro.StatusAccepted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM intro_requests`).
		WithArgs("req-1").
		WillReturnRows(introRows("req-1", intro.StatusDeclined, now))

	_, err := store.UpdateIntroStatusIf(context.Background(), "req-1", intro.StatusPending, intro.StatusAccepted, &now)
	assert.ErrorIs(t, err, storage.ErrPredicateFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIntroStatusIfMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE intro_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM intro_requests`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(introColumns))

	_, err := store.UpdateIntroStatusIf(context.Background(), "missing", intro.StatusPending, intro.StatusAccepted, &now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireIntroRequestsCountsRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE intro_requests`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.ExpireIntroRequests(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementPersuasionReturnsNewCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE ghost_asks`).
		WithArgs("ask-1").
		WillReturnRows(sqlmock.NewRows([]string{"persuasion_attempts"}).AddRow(7))

	attempts, err := store.IncrementPersuasion(context.Background(), "ask-1")
	require.NoError(t, err)
	assert.Equal(t, 7, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockGhostAskIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE ghost_asks`).
		WithArgs("ask-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM ghost_asks`).
		WithArgs("ask-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "sender_id", "recipient_id", "message", "status", "unlocked", "persuasion_attempts", "created_at", "sent_at",
		}).AddRow("ask-1", "alice", "bob", "hey", "pending", true, 0, now, nil))

	unlocked, err := store.UnlockGhostAsk(context.Background(), "ask-1")
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var introColumns = []string{
	"id", "requester_id", "target_id", "query_context", "why_match",
	"mutual_ids", "mutual_count", "status", "created_at", "responded_at", "expires_at",
}

func introRows(id string, status intro.Status, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(introColumns).
		AddRow(id, "alice", "bob", "looking for a climbing partner", "", []byte(`["carol"]`), 1,
			string(status), now, now, now.Add(7*24*time.Hour))
}
