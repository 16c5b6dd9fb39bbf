package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a persistent translation memory in SQLite.
type Store struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

// Open opens (creating if needed) the store at dbPath and applies pending
// migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", dbPath, err)
	}
	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, sq: sq.StatementBuilder}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL UNIQUE,
        applied_at TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var n int
		err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&n)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

func keyEq(k Key) sq.Eq {
	return sq.Eq{
		"engine":      k.Engine,
		"src_lang":    k.SourceLang,
		"tgt_lang":    k.TargetLang,
		"source_text": k.Text,
	}
}

// Get returns the stored translation for k.
func (s *Store) Get(ctx context.Context, k Key) (string, bool, error) {
	q, args, err := s.sq.Select("translation").From("translations").Where(keyEq(k)).Limit(1).ToSql()
	if err != nil {
		return "", false, err
	}
	var tr string
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&tr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}

	upd, uargs, err := s.sq.Update("translations").
		Set("hits", sq.Expr("hits + 1")).
		Set("used_at", time.Now().UTC().Format(time.RFC3339)).
		Where(keyEq(k)).ToSql()
	if err == nil {
		_, _ = s.db.ExecContext(ctx, upd, uargs...)
	}
	return tr, true, nil
}

// Put stores one translation, replacing an existing one.
func (s *Store) Put(ctx context.Context, k Key, translation string) error {
	return s.PutMany(ctx, map[Key]string{k: translation})
}

// PutMany stores several translations in one transaction.
func (s *Store) PutMany(ctx context.Context, entries map[Key]string) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for k, tr := range entries {
		q, args, err := s.sq.Insert("translations").
			Columns("engine", "src_lang", "tgt_lang", "source_text", "translation", "created_at").
			Values(k.Engine, k.SourceLang, k.TargetLang, k.Text, tr, now).
			Suffix("ON CONFLICT(engine, src_lang, tgt_lang, source_text) DO UPDATE SET translation=excluded.translation").
			ToSql()
		if err == nil {
			_, err = tx.ExecContext(ctx, q, args...)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cache store: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored translations, optionally limited to
// one target language.
func (s *Store) Count(ctx context.Context, targetLang string) (int, error) {
	b := s.sq.Select("COUNT(*)").From("translations")
	if targetLang != "" {
		b = b.Where(sq.Eq{"tgt_lang": targetLang})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Prune deletes entries that were not used since before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cut := before.UTC().Format(time.RFC3339)
	q, args, err := s.sq.Delete("translations").
		Where(sq.Or{
			sq.Lt{"used_at": cut},
			sq.And{sq.Eq{"used_at": nil}, sq.Lt{"created_at": cut}},
		}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}
