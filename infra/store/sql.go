package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/roster/core/model"
	corestore "github.com/kilianp07/roster/core/store"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name   string
	Driver string
	// Numbered placeholders ($1, $2) instead of '?'.
	numbered bool
	// Suffix appended to row reads made inside a write transaction.
	forUpdate string
}

var (
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite"}
	Postgres = Dialect{Name: "postgres", Driver: "pgx", numbered: true, forUpdate: " FOR UPDATE"}
)

const schema = `
CREATE TABLE IF NOT EXISTS forecasts (
    id TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    ruleset_hash TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY,
    forecast_id TEXT NOT NULL REFERENCES forecasts(id),
    parent_id TEXT NOT NULL DEFAULT '',
    config_hash TEXT NOT NULL,
    seed BIGINT NOT NULL,
    status TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
    plan_id TEXT PRIMARY KEY REFERENCES plans(id),
    body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_records (
    plan_id TEXT NOT NULL REFERENCES plans(id),
    seq BIGINT NOT NULL,
    body TEXT NOT NULL,
    PRIMARY KEY (plan_id, seq)
);
CREATE INDEX IF NOT EXISTS plans_by_solve ON plans (forecast_id, config_hash, seed);`

// SQLStore persists the roster engine state through database/sql. Complex
// fields are stored as JSON documents next to the indexed columns.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	// audit sequence numbers are allocated under this lock
	mu sync.Mutex
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return OpenSQL(SQLite, path)
}

// NewPostgresStore connects to dsn and ensures schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return OpenSQL(Postgres, dsn)
}

// OpenSQL opens dsn with the dialect's driver and applies the schema.
func OpenSQL(d Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// q rewrites '?' placeholders for dialects that number them.
func (s *SQLStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) PutForecast(ctx context.Context, f model.ForecastVersion) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO forecasts (id, content_hash, ruleset_hash, created_at, body) VALUES (?, ?, ?, ?, ?)`),
		f.ID, f.ContentHash, f.RulesetHash, f.CreatedAt.UnixNano(), string(body))
	return err
}

func (s *SQLStore) Forecast(ctx context.Context, id string) (model.ForecastVersion, error) {
	var f model.ForecastVersion
	err := s.one(ctx, s.db, `SELECT body FROM forecasts WHERE id = ?`, &f, id)
	if errors.Is(err, sql.ErrNoRows) {
		return f, corestore.NotFound("forecast", id)
	}
	return f, err
}

func (s *SQLStore) ForecastByHash(ctx context.Context, contentHash, rulesetHash string) (model.ForecastVersion, bool, error) {
	var f model.ForecastVersion
	err := s.one(ctx, s.db, `SELECT body FROM forecasts WHERE content_hash = ? AND ruleset_hash = ? ORDER BY created_at, id LIMIT 1`, &f, contentHash, rulesetHash)
	if errors.Is(err, sql.ErrNoRows) {
		return f, false, nil
	}
	return f, err == nil, err
}

func (s *SQLStore) Forecasts(ctx context.Context) ([]model.ForecastVersion, error) {
	return many[model.ForecastVersion](ctx, s.db, s.q(`SELECT body FROM forecasts ORDER BY created_at, id`))
}

func (s *SQLStore) CreatePlan(ctx context.Context, p model.PlanVersion) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := s.Forecast(ctx, p.ForecastID); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO plans (id, forecast_id, parent_id, config_hash, seed, status, created_at, body) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.ForecastID, p.ParentID, p.ConfigHash, p.Seed, p.Status.String(), p.CreatedAt.UnixNano(), string(body))
	return err
}

func (s *SQLStore) Plan(ctx context.Context, id string) (model.PlanVersion, error) {
	var p model.PlanVersion
	err := s.one(ctx, s.db, `SELECT body FROM plans WHERE id = ?`, &p, id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, corestore.NotFound("plan", id)
	}
	return p, err
}

func (s *SQLStore) FindPlan(ctx context.Context, forecastID, configHash string, seed int64) (model.PlanVersion, bool, error) {
	var p model.PlanVersion
	err := s.one(ctx, s.db, `SELECT body FROM plans WHERE forecast_id = ? AND config_hash = ? AND seed = ? AND parent_id = '' ORDER BY created_at DESC, id DESC LIMIT 1`,
		&p, forecastID, configHash, seed)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	return p, err == nil, err
}

func (s *SQLStore) Plans(ctx context.Context, forecastID string) ([]model.PlanVersion, error) {
	if forecastID == "" {
		return many[model.PlanVersion](ctx, s.db, s.q(`SELECT body FROM plans ORDER BY created_at, id`))
	}
	return many[model.PlanVersion](ctx, s.db, s.q(`SELECT body FROM plans WHERE forecast_id = ? ORDER BY created_at, id`), forecastID)
}

func (s *SQLStore) UpdatePlan(ctx context.Context, p model.PlanVersion) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		old, err := s.lockPlan(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := corestore.CheckUpdate(old, p); err != nil {
			return err
		}
		return s.writePlan(ctx, tx, p)
	})
}

func (s *SQLStore) CommitPlan(ctx context.Context, p model.PlanVersion, as []model.Assignment) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		old, err := s.lockPlan(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM assignments WHERE plan_id = ?`), p.ID).Scan(&n); err != nil {
			return err
		}
		if err := corestore.CheckCommit(old, p, n > 0); err != nil {
			return err
		}
		stored := make([]model.Assignment, len(as))
		for i, a := range as {
			a.PlanID = p.ID
			stored[i] = a
		}
		body, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := s.writePlan(ctx, tx, p); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO assignments (plan_id, body) VALUES (?, ?)`), p.ID, string(body))
		return err
	})
}

func (s *SQLStore) Assignments(ctx context.Context, planID string) ([]model.Assignment, error) {
	if _, err := s.Plan(ctx, planID); err != nil {
		return nil, err
	}
	var out []model.Assignment
	err := s.one(ctx, s.db, `SELECT body FROM assignments WHERE plan_id = ?`, &out, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return out, err
}

func (s *SQLStore) AppendAudit(ctx context.Context, recs []model.AuditRecord) ([]model.AuditRecord, error) {
	if err := corestore.CheckAppend(recs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditRecord, len(recs))
	err := s.tx(ctx, func(tx *sql.Tx) error {
		next := make(map[string]int64)
		for i, r := range recs {
			seq, ok := next[r.PlanID]
			if !ok {
				if _, err := s.lockPlan(ctx, tx, r.PlanID); err != nil {
					return err
				}
				if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(seq), 0) FROM audit_records WHERE plan_id = ?`), r.PlanID).Scan(&seq); err != nil {
					return err
				}
			}
			seq++
			next[r.PlanID] = seq
			r.Seq = seq
			body, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO audit_records (plan_id, seq, body) VALUES (?, ?, ?)`), r.PlanID, seq, string(body)); err != nil {
				return err
			}
			out[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) AuditRecords(ctx context.Context, planID string) ([]model.AuditRecord, error) {
	if _, err := s.Plan(ctx, planID); err != nil {
		return nil, err
	}
	return many[model.AuditRecord](ctx, s.db, s.q(`SELECT body FROM audit_records WHERE plan_id = ? ORDER BY seq`), planID)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// one decodes the JSON body of a single row into out.
func (s *SQLStore) one(ctx context.Context, db querier, query string, out any, args ...any) error {
	var body string
	if err := db.QueryRowContext(ctx, s.q(query), args...).Scan(&body); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

func many[T any](ctx context.Context, db querier, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) lockPlan(ctx context.Context, tx *sql.Tx, id string) (model.PlanVersion, error) {
	var p model.PlanVersion
	err := s.one(ctx, tx, `SELECT body FROM plans WHERE id = ?`+s.dialect.forUpdate, &p, id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, corestore.NotFound("plan", id)
	}
	return p, err
}

func (s *SQLStore) writePlan(ctx context.Context, tx *sql.Tx, p model.PlanVersion) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`UPDATE plans SET status = ?, body = ? WHERE id = ?`), p.Status.String(), string(body), p.ID)
	return err
}
