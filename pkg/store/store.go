package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver   string `yaml:"driver"` // sqlite (pure Go), sqlite3 (cgo) or postgres
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"` // postgres; overrides the fields below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

func DefaultConfig() Config {
	return Config{Driver: "sqlite", Path: "./data/fleetcmd.db", Host: "localhost", Port: 5432, SSLMode: "disable"}
}

type Store struct {
	db     *sql.DB
	driver string
	logFn  func(format string, args ...any)
}

func Open(cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite("sqlite", cfg.Path, "file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case "sqlite3":
		db, err = openSQLite("sqlite3", cfg.Path, "%s?_journal_mode=WAL&_busy_timeout=5000")
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
				cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode)
		}
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	s, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openSQLite(driver, path, dsnFormat string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		dsn = fmt.Sprintf(dsnFormat, path)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver, logFn: log.Printf}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return s, nil
}

func (s *Store) SetLogFunc(fn func(format string, args ...any)) {
	if fn != nil {
		s.logFn = fn
	}
}

func (s *Store) DB() *sql.DB    { return s.db }
func (s *Store) Driver() string { return s.driver }
func (s *Store) Close() error   { return s.db.Close() }
func (s *Store) postgres() bool { return s.driver == "postgres" }

// Q rewrites ? placeholders for PostgreSQL and passes through for SQLite.
func (s *Store) Q(query string) string {
	if s.postgres() {
		return Rebind(query)
	}
	return query
}

// Rebind turns ? placeholders into $1, $2, ... outside of string literals.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (s *Store) migrate() error {
	schema := schemaSQLite
	if s.postgres() {
		schema = schemaPostgres
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	seq BIGINT NOT NULL,
	tick BIGINT NOT NULL,
	sim_time DOUBLE PRECISION NOT NULL,
	kind TEXT NOT NULL,
	event_type TEXT NOT NULL,
	fleet_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_fleet ON events(fleet_id, seq);
CREATE TABLE IF NOT EXISTS ledger (
	tick BIGINT PRIMARY KEY,
	sim_time DOUBLE PRECISION NOT NULL,
	prev_hash TEXT NOT NULL,
	state_hash TEXT NOT NULL,
	final_hash TEXT NOT NULL,
	event_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	tick BIGINT PRIMARY KEY,
	state_blob BLOB NOT NULL,
	raw_size INTEGER NOT NULL,
	final_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS solar_systems (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	x INTEGER NOT NULL, y INTEGER NOT NULL, z INTEGER NOT NULL,
	cluster TEXT NOT NULL DEFAULT '',
	lane BOOLEAN NOT NULL DEFAULT FALSE
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	seq BIGINT NOT NULL,
	tick BIGINT NOT NULL,
	sim_time DOUBLE PRECISION NOT NULL,
	kind TEXT NOT NULL,
	event_type TEXT NOT NULL,
	fleet_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_fleet ON events(fleet_id, seq);
CREATE TABLE IF NOT EXISTS ledger (
	tick BIGINT PRIMARY KEY,
	sim_time DOUBLE PRECISION NOT NULL,
	prev_hash TEXT NOT NULL,
	state_hash TEXT NOT NULL,
	final_hash TEXT NOT NULL,
	event_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	tick BIGINT PRIMARY KEY,
	state_blob BYTEA NOT NULL,
	raw_size INTEGER NOT NULL,
	final_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS solar_systems (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	x INTEGER NOT NULL, y INTEGER NOT NULL, z INTEGER NOT NULL,
	cluster TEXT NOT NULL DEFAULT '',
	lane BOOLEAN NOT NULL DEFAULT FALSE
);
`
