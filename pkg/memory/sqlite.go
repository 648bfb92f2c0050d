package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const (
	timeLayout = "2006-01-02T15:04:05.000000Z"
	dateLayout = "2006-01-02"
)

// SQLiteStore implements Store and ChatLog on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	keywords map[string]struct{}
}

var (
	_ Store   = (*SQLiteStore)(nil)
	_ ChatLog = (*SQLiteStore)(nil)
)

// OpenSQLite opens or creates the database at path and loads the keyword set.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:       db,
		logger:   logger.With("component", "memory.sqlite"),
		now:      time.Now,
		keywords: make(map[string]struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}
	if err := s.reloadKeywords(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chat_logs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		display_name TEXT NOT NULL,
		user_message TEXT NOT NULL,
		ai_response  TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		date_only    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_chat_date ON chat_logs(date_only);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_logs(session_id);

	CREATE TABLE IF NOT EXISTS memories (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id          TEXT NOT NULL,
		session_id       TEXT NOT NULL,
		keywords         TEXT NOT NULL,
		summary          TEXT NOT NULL,
		content          TEXT NOT NULL,
		memory_type      TEXT NOT NULL DEFAULT 'general',
		importance_score INTEGER NOT NULL DEFAULT 5,
		timestamp        TEXT NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		last_accessed    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memory_session ON memories(session_id);
	`)
	return err
}

// Save inserts r. Missing type and importance take their defaults.
func (s *SQLiteStore) Save(ctx context.Context, r Record) (int64, error) {
	if strings.TrimSpace(r.Summary) == "" {
		return 0, ErrEmptyRecord
	}
	if r.Type == "" {
		r.Type = DefaultType
	}
	if r.Importance == 0 {
		r.Importance = DefaultImportance
	}
	if r.Content == "" {
		r.Content = r.Summary
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, session_id, keywords, summary, content, memory_type, importance_score, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OwnerID, r.SessionID, strings.Join(r.Keywords, ", "), r.Summary, r.Content,
		r.Type, r.Importance, formatTime(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("memory: save: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("memory: save: %w", err)
	}

	s.mu.Lock()
	for _, k := range r.Keywords {
		s.keywords[strings.ToLower(k)] = struct{}{}
	}
	s.mu.Unlock()

	s.logger.Info("memory saved", "id", id, "owner", r.OwnerID, "keywords", r.Keywords)
	return id, nil
}

// FindByKeywords implements Store.
func (s *SQLiteStore) FindByKeywords(ctx context.Context, owner, excludeSession string, terms []string, limit int) ([]Record, error) {
	var conds []string
	args := []any{owner, excludeSession}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		like := "%" + t + "%"
		conds = append(conds, "LOWER(keywords) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(content) LIKE ?")
		args = append(args, like, like, like)
	}
	if len(conds) == 0 || limit <= 0 {
		return nil, nil
	}
	args = append(args, limit)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: find: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM memories
		WHERE user_id = ? AND session_id != ? AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY importance_score DESC, access_count DESC, timestamp DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: find: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			formatTime(now), records[i].ID); err != nil {
			return nil, fmt.Errorf("memory: mark accessed: %w", err)
		}
		records[i].AccessCount++
		records[i].LastAccessedAt = now.UTC().Truncate(time.Microsecond)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("memory: find: %w", err)
	}
	return records, nil
}

// FindByID implements Store.
func (s *SQLiteStore) FindByID(ctx context.Context, owner string, id int64) (Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return Record{}, fmt.Errorf("memory: find by id: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

// List returns the owner's records, newest first. An empty owner lists all.
func (s *SQLiteStore) List(ctx context.Context, owner string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE (? = '' OR user_id = ?) ORDER BY timestamp DESC LIMIT ?`,
		owner, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	return scanRecords(rows)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, owner string, id int64, u Update) error {
	if u.empty() {
		return nil
	}
	var sets []string
	var args []any
	if len(u.Keywords) > 0 {
		sets = append(sets, "keywords = ?")
		args = append(args, strings.Join(u.Keywords, ", "))
	}
	if u.Summary != "" {
		sets = append(sets, "summary = ?")
		args = append(args, u.Summary)
	}
	if u.Content != "" {
		sets = append(sets, "content = ?")
		args = append(args, u.Content)
	}
	if u.Importance != 0 {
		sets = append(sets, "importance_score = ?")
		args = append(args, u.Importance)
	}
	args = append(args, owner, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("memory: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if len(u.Keywords) > 0 {
		return s.reloadKeywords(ctx)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, owner string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return s.reloadKeywords(ctx)
}

// DeleteByID removes a record regardless of owner. Used by the CLI.
func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return s.reloadKeywords(ctx)
}

// Keywords implements Store.
func (s *SQLiteStore) Keywords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.keywords))
	for k := range s.keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *SQLiteStore) reloadKeywords(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT keywords FROM memories`)
	if err != nil {
		return fmt.Errorf("memory: load keywords: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return fmt.Errorf("memory: load keywords: %w", err)
		}
		for _, k := range SplitKeywords(kw) {
			set[k] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("memory: load keywords: %w", err)
	}

	s.mu.Lock()
	s.keywords = set
	s.mu.Unlock()
	s.logger.Debug("keywords loaded", "count", len(set))
	return nil
}

// AppendChat implements ChatLog.
func (s *SQLiteStore) AppendChat(ctx context.Context, e ChatEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_logs (user_id, session_id, display_name, user_message, ai_response, timestamp, date_only)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerID, e.SessionID, e.DisplayName, e.UserMessage, e.Response,
		formatTime(e.At), e.At.UTC().Format(dateLayout))
	if err != nil {
		return fmt.Errorf("memory: append chat: %w", err)
	}
	return nil
}

// RecentChats implements ChatLog.
func (s *SQLiteStore) RecentChats(ctx context.Context, owner, excludeSession string, days, limit int) ([]ChatEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days).Format(dateLayout)

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, session_id, display_name, user_message, ai_response, timestamp
		FROM chat_logs
		WHERE user_id = ? AND session_id != ? AND date_only >= ?
		ORDER BY timestamp DESC
		LIMIT ?`, owner, excludeSession, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent chats: %w", err)
	}
	defer rows.Close()

	var out []ChatEntry
	for rows.Next() {
		var e ChatEntry
		var ts string
		if err := rows.Scan(&e.OwnerID, &e.SessionID, &e.DisplayName, &e.UserMessage, &e.Response, &ts); err != nil {
			return nil, fmt.Errorf("memory: recent chats: %w", err)
		}
		e.At = parseTime(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: recent chats: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

const recordColumns = `id, user_id, session_id, keywords, summary, content, memory_type,
	importance_score, timestamp, access_count, last_accessed`

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r        Record
			keywords string
			created  string
			accessed sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.SessionID, &keywords, &r.Summary, &r.Content,
			&r.Type, &r.Importance, &created, &r.AccessCount, &accessed); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		r.Keywords = SplitKeywords(keywords)
		r.CreatedAt = parseTime(created)
		if accessed.Valid {
			r.LastAccessedAt = parseTime(accessed.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: scan: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
