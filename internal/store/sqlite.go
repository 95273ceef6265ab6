package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  param TEXT UNIQUE NOT NULL,
  title TEXT NOT NULL,
  thumbnail TEXT,
  synopsis TEXT,
  genres TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chapters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  entry_id INTEGER NOT NULL REFERENCES entries(id),
  label TEXT NOT NULL,
  param TEXT NOT NULL,
  release_date TEXT,
  detail_url TEXT,
  seq INTEGER NOT NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(entry_id, param)
);
CREATE TABLE IF NOT EXISTS pages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  chapter_id INTEGER NOT NULL REFERENCES chapters(id),
  idx INTEGER NOT NULL,
  url TEXT NOT NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(chapter_id, idx)
);
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  finished_at DATETIME,
  status TEXT,
  details TEXT
);
`

// SQLiteStore is the always-available local fallback backend: a single
// sqlite file, writes committed per statement so every mutation is durable
// on its own.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the sqlite store at path and ensures the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindEntry(ctx context.Context, param string) (*CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, param, title, thumbnail, synopsis, genres, created_at, updated_at
		FROM entries WHERE param = ?`, param)
	return scanEntry(row)
}

func (s *SQLiteStore) UpsertEntry(ctx context.Context, e *CatalogEntry) (UpsertResult, error) {
	genres, err := json.Marshal(e.Genres)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal genres for %s: %w", e.Param, err)
	}

	var existing int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM entries WHERE param = ?`, e.Param).Scan(&existing)
	created := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return UpsertResult{}, fmt.Errorf("find entry %s: %w", e.Param, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (param, title, thumbnail, synopsis, genres)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(param) DO UPDATE SET
		  title = excluded.title,
		  thumbnail = excluded.thumbnail,
		  synopsis = excluded.synopsis,
		  genres = excluded.genres,
		  updated_at = CURRENT_TIMESTAMP`,
		e.Param, e.Title, e.Thumbnail, e.Synopsis, string(genres))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: %w", e.Param, err)
	}

	if created {
		id, err := res.LastInsertId()
		if err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{ID: id, Created: true}, nil
	}
	return UpsertResult{ID: existing, Created: false}, nil
}

func (s *SQLiteStore) ListChapters(ctx context.Context, entryID int64) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, label, param, release_date, detail_url, seq, created_at
		FROM chapters WHERE entry_id = ? ORDER BY seq DESC`, entryID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []Chapter
	for rows.Next() {
		var ch Chapter
		var release, detail sql.NullString
		if err := rows.Scan(&ch.ID, &ch.EntryID, &ch.Label, &ch.Param, &release, &detail, &ch.Seq, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.ReleaseDate = release.String
		ch.DetailURL = detail.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *Chapter) (InsertResult, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chapters (entry_id, label, param, release_date, detail_url, seq)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entryID, ch.Label, ch.Param, ch.ReleaseDate, ch.DetailURL, ch.Seq)
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert chapter %s: %w", ch.Param, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return InsertResult{}, err
	}
	if n == 0 {
		// Lost the race or already known; fetch the winner's id.
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM chapters WHERE entry_id = ? AND param = ?`,
			entryID, ch.Param).Scan(&id)
		if err != nil {
			return InsertResult{}, fmt.Errorf("find chapter %s: %w", ch.Param, err)
		}
		return InsertResult{ID: id, Inserted: false}, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return InsertResult{}, err
	}
	return InsertResult{ID: id, Inserted: true}, nil
}

func (s *SQLiteStore) InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pages (chapter_id, idx, url) VALUES (?, ?, ?)`,
		chapterID, idx, url)
	if err != nil {
		return false, fmt.Errorf("insert page %d: %w", idx, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) BeginRun(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO runs (status) VALUES (?)`, RunRunning)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) EndRun(ctx context.Context, runID int64, status, details string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = CURRENT_TIMESTAMP, status = ?, details = ?
		WHERE id = ?`, status, TruncateDetails(details), runID)
	if err != nil {
		return fmt.Errorf("end run %d: %w", runID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, offset, limit int) ([]CatalogEntry, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, param, title, thumbnail, synopsis, genres, created_at, updated_at
		FROM entries ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) ListPages(ctx context.Context, chapterID int64) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chapter_id, idx, url FROM pages WHERE chapter_id = ? ORDER BY idx ASC`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.ChapterID, &p.Idx, &p.URL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, details
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		var status, details sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &status, &details); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Status = status.String
		r.Details = details.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row *sql.Row) (*CatalogEntry, error) {
	e, err := scanEntryRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanEntryRows(row rowScanner) (*CatalogEntry, error) {
	var e CatalogEntry
	var thumbnail, synopsis, genres sql.NullString
	if err := row.Scan(&e.ID, &e.Param, &e.Title, &thumbnail, &synopsis, &genres, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Thumbnail = thumbnail.String
	e.Synopsis = synopsis.String
	if genres.Valid && genres.String != "" {
		if err := json.Unmarshal([]byte(genres.String), &e.Genres); err != nil {
			return nil, fmt.Errorf("unmarshal genres for %s: %w", e.Param, err)
		}
	}
	return &e, nil
}
