package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/app/storage/storagetest"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

var columns = []string{"id", "from_user", "target_user", "type", "payload", "processed", "created_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestEnqueue_OfferDeletesPreviousThenInserts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM call_signals")).
		WithArgs("alice", "bob", "offer").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO call_signals")).
		WithArgs("alice", "bob", "offer", `{"sdp":"v=0"}`, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	got, err := store.Enqueue(context.Background(), signal.Signal{
		From: "alice", Target: "bob", Type: signaling.TypeOffer, Payload: []byte(`{"sdp":"v=0"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, now, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_CandidateNeverDeletes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO call_signals")).
		WithArgs("alice", "bob", "ice_candidate", "{}", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

	_, err := store.Enqueue(context.Background(), signal.Signal{From: "alice", Target: "bob", Type: signaling.TypeICECandidate})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoll_ActiveSortsOldestFirst(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE call_signals")).
		WithArgs("bob", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(3), "alice", "bob", "ice_candidate", []byte(`{}`), true, now).
			AddRow(int64(1), "alice", "bob", "incoming_call", []byte(`{}`), true, now.Add(-2*time.Second)).
			AddRow(int64(2), "alice", "bob", "offer", []byte(`{"sdp":"x"}`), true, now.Add(-time.Second)))

	got, err := store.Poll(context.Background(), "bob", signaling.ModeActive, signal.Cutoff(now))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, signaling.TypeOffer, got[1].Type)
	assert.JSONEq(t, `{"sdp":"x"}`, string(got[1].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoll_PreviewUsesInviteOnlyUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WITH invites AS")).
		WithArgs("bob", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := store.Poll(context.Background(), "bob", signaling.ModePreview, signal.Cutoff(time.Now()))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoll_ProvisionsMissingTable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE call_signals")).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "call_signals" does not exist`})
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS call_signals")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE call_signals")).
		WillReturnRows(sqlmock.NewRows(columns))

	got, err := store.Poll(context.Background(), "bob", signaling.ModeActive, signal.Cutoff(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoll_StoreFailureIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE call_signals")).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.Poll(context.Background(), "bob", signaling.ModeActive, signal.Cutoff(time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestPurgeAndReap_ReturnRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := signal.Cutoff(time.Now())

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM call_signals WHERE from_user = $1 OR target_user = $1")).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM call_signals WHERE created_at <= $1")).
		WithArgs(cutoff.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	purged, err := store.Purge(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)

	reaped, err := store.Reap(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reaped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	store, err := Open(context.Background(), dsn, 8, 4)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()

	storagetest.Run(t, func(t *testing.T) storage.SignalStore {
		return store
	})
}
