package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/internal/platform/migrations"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// undefinedTable is the SQLSTATE raised when call_signals does not exist yet.
const undefinedTable = "42P01"

// Store implements storage.SignalStore backed by PostgreSQL.
//
// Offer/answer replacement runs as two statements without a transaction. Two
// resends racing each other can both survive the delete, in which case the
// receiver's next poll returns both and the later one wins.
type Store struct {
	db *sqlx.DB
}

var _ storage.SignalStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and sizes the pool.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// DB exposes the underlying handle for migrations and shutdown.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const signalColumns = `id, from_user, target_user, type, payload, processed, created_at`

// --- Enqueue ----------------------------------------------------------------

func (s *Store) Enqueue(ctx context.Context, sig signal.Signal) (signal.Signal, error) {
	payload := string(sig.Payload)
	if payload == "" {
		payload = "{}"
	}
	var createdAt interface{}
	if !sig.CreatedAt.IsZero() {
		createdAt = sig.CreatedAt.UTC()
	}

	err := s.withProvisioning(ctx, func() error {
		if sig.Type.Deduplicated() {
			if _, err := s.db.ExecContext(ctx, `
				DELETE FROM call_signals
				WHERE from_user = $1 AND target_user = $2 AND type = $3 AND processed = FALSE
			`, sig.From, sig.Target, string(sig.Type)); err != nil {
				return err
			}
		}

		return s.db.QueryRowxContext(ctx, `
			INSERT INTO call_signals (from_user, target_user, type, payload, created_at)
			VALUES ($1, $2, $3, $4::jsonb, COALESCE($5::timestamptz, NOW()))
			RETURNING id, created_at
		`, sig.From, sig.Target, string(sig.Type), payload, createdAt).Scan(&sig.ID, &sig.CreatedAt)
	})
	if err != nil {
		return signal.Signal{}, unavailable("enqueue", err)
	}

	sig.Processed = false
	return sig, nil
}

// --- Poll -------------------------------------------------------------------

// Active polls claim rows with UPDATE ... RETURNING, so a row is returned to
// at most one of several concurrent active pollers.
const pollActiveSQL = `
	UPDATE call_signals
	SET processed = TRUE
	WHERE target_user = $1 AND processed = FALSE AND created_at > $2
	RETURNING ` + signalColumns

// Preview polls claim only incoming_call rows and read the rest unchanged.
const pollPreviewSQL = `
	WITH invites AS (
		UPDATE call_signals
		SET processed = TRUE
		WHERE target_user = $1 AND processed = FALSE AND created_at > $2 AND type = 'incoming_call'
		RETURNING ` + signalColumns + `
	)
	SELECT ` + signalColumns + ` FROM invites
	UNION ALL
	SELECT ` + signalColumns + ` FROM call_signals
	WHERE target_user = $1 AND processed = FALSE AND created_at > $2 AND type <> 'incoming_call'`

func (s *Store) Poll(ctx context.Context, target string, mode signaling.Mode, cutoff time.Time) ([]signal.Signal, error) {
	query := pollActiveSQL
	if mode == signaling.ModePreview {
		query = pollPreviewSQL
	}

	var rows []signal.Signal
	err := s.withProvisioning(ctx, func() error {
		rows = rows[:0]
		return s.db.SelectContext(ctx, &rows, query, target, cutoff.UTC())
	})
	if err != nil {
		return nil, unavailable("poll", err)
	}

	if rows == nil {
		rows = make([]signal.Signal, 0)
	}
	sort.Slice(rows, func(i, j int) bool { return signal.Less(rows[i], rows[j]) })
	return rows, nil
}

// --- Purge / Reap -----------------------------------------------------------

func (s *Store) Purge(ctx context.Context, user string) (int64, error) {
	return s.deleteWhere(ctx, "purge", `DELETE FROM call_signals WHERE from_user = $1 OR target_user = $1`, user)
}

func (s *Store) Reap(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(ctx, "reap", `DELETE FROM call_signals WHERE created_at <= $1`, cutoff.UTC())
}

func (s *Store) deleteWhere(ctx context.Context, op, query string, arg interface{}) (int64, error) {
	var affected int64
	err := s.withProvisioning(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, arg)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, unavailable(op, err)
	}
	return affected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// --- Provisioning -----------------------------------------------------------

// withProvisioning runs op and, if the table is missing, creates the schema
// and runs op once more.
func (s *Store) withProvisioning(ctx context.Context, op func() error) error {
	err := op()
	if !isUndefinedTable(err) {
		return err
	}
	if perr := migrations.Apply(ctx, s.db.DB); perr != nil {
		return fmt.Errorf("provision call_signals: %w", perr)
	}
	return op()
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedTable
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s signals: %w", op, err)
	}
	return fmt.Errorf("%s signals: %w: %w", op, storage.ErrUnavailable, err)
}
