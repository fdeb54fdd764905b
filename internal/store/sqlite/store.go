// Package sqlite persists matches and quizzes in a single SQLite file.
//
// Each match row carries a version counter. Mutations read the row, apply the
// entity transition in memory and write back with a compare-and-swap on the
// version, retrying when another writer got there first.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/store"
	"github.com/chess-vn/slduel/internal/store/sqlite/migrations"
	"github.com/chess-vn/slduel/internal/store/sqlitemigrate"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const maxCASAttempts = 16

type Store struct {
	db *sql.DB
}

var _ duel.Store = (*Store)(nil)

// Open opens the database at path, creating it if needed, and applies the
// embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateMatch(ctx context.Context, match entities.Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := store.MatchRecordFromEntity(match)
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode match: %w", err)
	}
	p2User, p2Conn := player2Columns(rec)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO matches (
		   match_id, quiz_id, status,
		   player1_user_id, player1_conn,
		   player2_user_id, player2_conn,
		   created_at, version, doc
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		rec.MatchId,
		rec.QuizId,
		rec.Status,
		rec.Player1.UserId,
		rec.Player1.ConnectionRef,
		p2User,
		p2Conn,
		rec.CreatedAt,
		string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrMatchExists
		}
		return unavailable("create match", err)
	}
	return nil
}

func (s *Store) GetMatch(ctx context.Context, matchId string) (entities.Match, error) {
	if err := ctx.Err(); err != nil {
		return entities.Match{}, err
	}
	m, _, err := s.load(ctx, matchId)
	return m, err
}

func (s *Store) FindWaitingMatch(ctx context.Context, quizId, excludeUserId string) (entities.Match, error) {
	matches, err := s.query(
		ctx,
		`WHERE status = ? AND quiz_id = ? AND player2_user_id = '' AND player1_user_id <> ?
		 ORDER BY created_at, match_id LIMIT 1`,
		entities.StatusWaiting.String(), quizId, excludeUserId,
	)
	if err != nil {
		return entities.Match{}, err
	}
	if len(matches) == 0 {
		return entities.Match{}, store.ErrMatchNotFound
	}
	return matches[0], nil
}

func (s *Store) JoinMatch(ctx context.Context, matchId string, opponent entities.PlayerState) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Join(opponent)
	})
}

func (s *Store) DeleteWaitingMatch(ctx context.Context, matchId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM matches WHERE match_id = ? AND status = ?`,
		matchId, entities.StatusWaiting.String(),
	)
	if err != nil {
		return unavailable("delete match", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete match", err)
	}
	if n == 1 {
		return nil
	}
	if _, _, err := s.load(ctx, matchId); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrConditionFailed, entities.ErrWrongStatus)
}

func (s *Store) SetReady(ctx context.Context, matchId string, role entities.Role) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.MarkReady(role)
	})
}

func (s *Store) ActivateMatch(ctx context.Context, matchId string, startedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Activate(startedAt)
	})
}

func (s *Store) AppendAnswer(
	ctx context.Context,
	matchId string,
	role entities.Role,
	record entities.AnswerRecord,
	points int,
) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.AppendAnswer(role, record, points)
	})
}

func (s *Store) CompleteMatch(ctx context.Context, matchId string, winner *string, completedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Complete(winner, completedAt)
	})
}

func (s *Store) ForfeitMatch(ctx context.Context, matchId string, role entities.Role, completedAt time.Time) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Forfeit(role, completedAt)
	})
}

func (s *Store) RebindConnection(ctx context.Context, matchId string, role entities.Role, connectionRef string) (entities.Match, error) {
	return s.mutate(ctx, matchId, func(m *entities.Match) error {
		return m.Rebind(role, connectionRef)
	})
}

func (s *Store) FindOpenMatchesByConnection(ctx context.Context, connectionRef string) ([]entities.Match, error) {
	if connectionRef == "" {
		return nil, nil
	}
	return s.query(
		ctx,
		`WHERE (player1_conn = ? OR player2_conn = ?) AND status IN (?, ?, ?)
		 ORDER BY created_at, match_id`,
		append([]any{connectionRef, connectionRef}, openStatuses()...)...,
	)
}

func (s *Store) ListOpenMatches(ctx context.Context) ([]entities.Match, error) {
	return s.query(
		ctx,
		`WHERE status IN (?, ?, ?) ORDER BY created_at, match_id`,
		openStatuses()...,
	)
}

func (s *Store) FetchWaitingMatchesBefore(ctx context.Context, cutoff time.Time) ([]entities.Match, error) {
	return s.query(
		ctx,
		`WHERE status = ? AND created_at < ? ORDER BY created_at, match_id`,
		entities.StatusWaiting.String(), store.ToMillis(cutoff),
	)
}

// mutate reads the row, applies fn and writes it back only if the version
// has not moved in between.
func (s *Store) mutate(ctx context.Context, matchId string, fn func(*entities.Match) error) (entities.Match, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return entities.Match{}, err
		}
		current, version, err := s.load(ctx, matchId)
		if err != nil {
			return entities.Match{}, err
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			return entities.Match{}, fmt.Errorf("%w: %w", store.ErrConditionFailed, err)
		}
		ok, err := s.swap(ctx, next, version)
		if err != nil {
			return entities.Match{}, err
		}
		if ok {
			return next, nil
		}
	}
	return entities.Match{}, fmt.Errorf("%w: match %s kept changing", store.ErrUnavailable, matchId)
}

func (s *Store) swap(ctx context.Context, match entities.Match, version int64) (bool, error) {
	rec := store.MatchRecordFromEntity(match)
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode match: %w", err)
	}
	p2User, p2Conn := player2Columns(rec)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE matches
		 SET status = ?, player1_conn = ?, player2_user_id = ?, player2_conn = ?,
		     doc = ?, version = version + 1
		 WHERE match_id = ? AND version = ?`,
		rec.Status,
		rec.Player1.ConnectionRef,
		p2User,
		p2Conn,
		string(doc),
		rec.MatchId,
		version,
	)
	if err != nil {
		return false, unavailable("update match", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("update match", err)
	}
	return n == 1, nil
}

func (s *Store) load(ctx context.Context, matchId string) (entities.Match, int64, error) {
	var (
		doc     string
		version int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT doc, version FROM matches WHERE match_id = ?`,
		matchId,
	).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Match{}, 0, store.ErrMatchNotFound
	}
	if err != nil {
		return entities.Match{}, 0, unavailable("get match", err)
	}
	m, err := decode(doc)
	if err != nil {
		return entities.Match{}, 0, err
	}
	return m, version, nil
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]entities.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM matches `+where, args...)
	if err != nil {
		return nil, unavailable("query matches", err)
	}
	defer rows.Close()

	var matches []entities.Match
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan match", err)
		}
		m, err := decode(doc)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate matches", err)
	}
	return matches, nil
}

func decode(doc string) (entities.Match, error) {
	var rec store.MatchRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return entities.Match{}, fmt.Errorf("decode match: %w", err)
	}
	return rec.ToEntity(), nil
}

func player2Columns(rec store.MatchRecord) (string, string) {
	if rec.Player2 == nil {
		return "", ""
	}
	return rec.Player2.UserId, rec.Player2.ConnectionRef
}

func openStatuses() []any {
	return []any{
		entities.StatusWaiting.String(),
		entities.StatusReady.String(),
		entities.StatusActive.String(),
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
