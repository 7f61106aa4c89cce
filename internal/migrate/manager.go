// Package migrate applies versioned SQL files to PostgreSQL. Files named
// NNNN_name.up.sql are applied in lexical order and rolled back with the
// matching NNNN_name.down.sql.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// lockKey serialises concurrent runners through pg_advisory_lock.
	lockKey = 7_340_113
)

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Migration describes one up file and whether it has been applied.
type Migration struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager executes SQL migrations and seed files from an fs.FS.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             *zap.Logger
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSeeds sets the file system holding *.sql seed files.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds = seeds }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager constructs a Manager reading *.up.sql / *.down.sql from migrations.
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             zap.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns their names. Each file and
// its bookkeeping row commit in one transaction.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		executed, err := m.executed(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.migrations, ".up.sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			if _, ok := executed[name]; ok {
				continue
			}
			if err := m.apply(ctx, conn, m.migrations, name, m.migrationsTable, true); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			m.log.Info("migration applied", zap.String("name", name))
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		history, err := m.history(ctx, conn)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingApplied
		}
		last = history[len(history)-1].Name
		down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(m.migrations, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := m.apply(ctx, conn, m.migrations, down, "", false); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
			return err
		}
		m.log.Info("migration rolled back", zap.String("name", last))
		return nil
	})
	return last, err
}

// Status lists every known migration in order with its applied state.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := m.ensureTables(ctx, conn); err != nil {
		return nil, err
	}
	history, err := m.history(ctx, conn)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	appliedAt := make(map[string]time.Time, len(history))
	for _, h := range history {
		appliedAt[h.Name] = h.AppliedAt
	}
	out := make([]Migration, 0, len(files))
	for _, name := range files {
		at, ok := appliedAt[name]
		out = append(out, Migration{Name: name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// Seed applies seed files once each and returns the names applied.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	var applied []string
	err := m.withLock(ctx, func(conn *sql.Conn) error {
		executed, err := m.executed(ctx, conn, m.seedsTable)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.seeds, ".sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			if _, ok := executed[name]; ok {
				continue
			}
			if err := m.apply(ctx, conn, m.seeds, name, m.seedsTable, true); err != nil {
				return fmt.Errorf("apply seed %s: %w", name, err)
			}
			m.log.Info("seed applied", zap.String("name", name))
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// withLock pins one connection for the advisory lock and the work under it.
func (m *Manager) withLock(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey)
	}()
	if err := m.ensureTables(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) ensureTables(ctx context.Context, conn *sql.Conn) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// apply runs the statements of name and, when record is set, inserts the
// bookkeeping row into table inside the same transaction.
func (m *Manager) apply(ctx context.Context, conn *sql.Conn, fsys fs.FS, name, table string, record bool) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if record {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
			name, m.now().UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) executed(ctx context.Context, conn *sql.Conn, table string) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = struct{}{}
	}
	return result, rows.Err()
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn) ([]Migration, error) {
	rows, err := conn.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s order by name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Migration
	for rows.Next() {
		mig := Migration{Applied: true}
		if err := rows.Scan(&mig.Name, &mig.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, mig)
	}
	return res, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		// .down.sql also ends in .sql; seeds never carry direction suffixes.
		if suffix == ".sql" && (strings.HasSuffix(p, ".up.sql") || strings.HasSuffix(p, ".down.sql")) {
			return nil
		}
		files = append(files, path.Clean(p))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops "--" line comments and empty statements.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\'':
			inString = !inString
			current.WriteByte(c)
		case !inString && c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case !inString && c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return stmts
}
