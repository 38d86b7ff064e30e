package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/cardshield/rulegov/pkg/domain"
)

// Dialect names the SQL flavor behind a SQLStore. Queries use $N
// placeholders, which both lib/pq and modernc.org/sqlite accept; the
// dialect only changes advisory locking and constraint-error detection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over database/sql. It supports both Postgres
// and SQLite via standard drivers.
type SQLStore struct {
	db      *sql.DB
	q       dbtx
	dialect Dialect
	inTx    bool
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, q: db, dialect: dialect}
}

var _ Store = (*SQLStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS rule_fields (
	field_key TEXT PRIMARY KEY,
	field_id INTEGER NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data_type TEXT NOT NULL,
	allowed_operators TEXT NOT NULL,
	multi_value_allowed BOOLEAN NOT NULL DEFAULT FALSE,
	is_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	current_version INTEGER NOT NULL DEFAULT 1,
	row_version INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_field_versions (
	field_version_id TEXT PRIMARY KEY,
	field_key TEXT NOT NULL REFERENCES rule_fields(field_key),
	version INTEGER NOT NULL,
	display_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data_type TEXT NOT NULL,
	allowed_operators TEXT NOT NULL,
	multi_value_allowed BOOLEAN NOT NULL DEFAULT FALSE,
	is_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
	enum_values TEXT,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMP,
	UNIQUE (field_key, version)
);

CREATE TABLE IF NOT EXISTS rule_field_metadata (
	field_key TEXT NOT NULL REFERENCES rule_fields(field_key),
	meta_key TEXT NOT NULL,
	meta_value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (field_key, meta_key)
);

CREATE TABLE IF NOT EXISTS field_registry_manifests (
	registry_version INTEGER PRIMARY KEY,
	artifact_uri TEXT NOT NULL,
	checksum TEXT NOT NULL,
	field_count INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	rule_id TEXT PRIMARY KEY,
	rule_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	rule_type TEXT NOT NULL,
	status TEXT NOT NULL,
	current_version INTEGER NOT NULL DEFAULT 1,
	row_version INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_versions (
	rule_version_id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL REFERENCES rules(rule_id),
	version INTEGER NOT NULL,
	condition_tree TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '{}',
	priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 1000),
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMP,
	UNIQUE (rule_id, version)
);

CREATE TABLE IF NOT EXISTS rulesets (
	ruleset_id TEXT PRIMARY KEY,
	environment TEXT NOT NULL,
	region TEXT NOT NULL,
	country TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	row_version INTEGER NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (environment, region, country, rule_type)
);

CREATE TABLE IF NOT EXISTS ruleset_versions (
	ruleset_version_id TEXT PRIMARY KEY,
	ruleset_id TEXT NOT NULL REFERENCES rulesets(ruleset_id),
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	approved_by TEXT,
	approved_at TIMESTAMP,
	activated_at TIMESTAMP,
	UNIQUE (ruleset_id, version)
);

CREATE TABLE IF NOT EXISTS ruleset_version_rules (
	ruleset_version_id TEXT NOT NULL REFERENCES ruleset_versions(ruleset_version_id),
	rule_version_id TEXT NOT NULL REFERENCES rule_versions(rule_version_id),
	PRIMARY KEY (ruleset_version_id, rule_version_id)
);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	maker TEXT NOT NULL,
	checker TEXT,
	remarks TEXT,
	idempotency_key TEXT,
	created_at TIMESTAMP NOT NULL,
	decided_at TIMESTAMP,
	UNIQUE (entity_type, entity_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS audit_log (
	audit_id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT,
	performed_by TEXT NOT NULL,
	performed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ruleset_manifests (
	manifest_id TEXT PRIMARY KEY,
	environment TEXT NOT NULL,
	region TEXT NOT NULL,
	country TEXT NOT NULL,
	rule_type TEXT NOT NULL,
	ruleset_version INTEGER NOT NULL,
	ruleset_version_id TEXT NOT NULL REFERENCES ruleset_versions(ruleset_version_id),
	field_registry_version INTEGER,
	artifact_uri TEXT NOT NULL,
	checksum TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (environment, region, country, rule_type, ruleset_version)
);
`

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema init failed: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in one transaction. Nested calls join the ambient
// transaction instead of opening a second one.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	opts := &sql.TxOptions{}
	if s.dialect == DialectPostgres {
		// SQLite is serializable by default and rejects explicit levels.
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return domain.Unavailablef("begin transaction failed").WithCause(err)
	}
	scoped := &SQLStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}
	if err := fn(ctx, scoped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unavailablef("commit failed").WithCause(err)
	}
	return nil
}

// LockRuleset takes a transaction-scoped advisory lock on Postgres.
// SQLite serializes writers on its own.
func (s *SQLStore) LockRuleset(ctx context.Context, rulesetID string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	_, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rulesetID)
	if err != nil {
		return domain.Unavailablef("advisory lock failed").WithCause(err)
	}
	return nil
}

// isUniqueViolation detects duplicate-key failures across both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "(2067)")
}

// mapInsertErr converts driver errors on INSERT into the error taxonomy.
func mapInsertErr(err error, entity, key string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return domain.Conflictf("%s %s already exists", entity, key).WithCause(err)
	}
	return domain.Integrityf("%s insert failed", entity).WithCause(err)
}

// nullStr maps "" to SQL NULL so partial unique indexes behave.
func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// keysetWindow renders the WHERE fragment and ORDER BY for a keyset page
// over (createdCol, idCol). argPos is the next free placeholder index; the
// caller appends cursor.CreatedAt and cursor.ID when the fragment is
// non-empty. Row-value comparison is supported by both target dialects.
func keysetWindow(createdCol, idCol string, cursor *Cursor, dir Direction, argPos int) (where, order string) {
	if dir == DirectionPrev {
		order = fmt.Sprintf("ORDER BY %s ASC, %s ASC", createdCol, idCol)
		if cursor != nil {
			where = fmt.Sprintf("(%s, %s) > ($%d, $%d)", createdCol, idCol, argPos, argPos+1)
		}
		return where, order
	}
	order = fmt.Sprintf("ORDER BY %s DESC, %s DESC", createdCol, idCol)
	if cursor != nil {
		where = fmt.Sprintf("(%s, %s) < ($%d, $%d)", createdCol, idCol, argPos, argPos+1)
	}
	return where, order
}
