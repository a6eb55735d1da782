package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oantajames/tinyviber/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[string][]chan *models.PipelineRequest
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool, preventing "database is
	// locked" errors from concurrent pipeline and webhook writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{
		db:       db,
		watchers: make(map[string][]chan *models.PipelineRequest),
	}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection and all watcher channels.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	for id, chans := range s.watchers {
		for _, ch := range chans {
			close(ch)
		}
		delete(s.watchers, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// --- Pipelines ---

const pipelineColumns = `id, session_id, user_name, prompt, skill_id, branch, status, error,
	pr_number, pr_url, commit_sha, files_changed, checks_status, deploy_status, deploy_url,
	created_at, updated_at`

func (s *SQLiteStore) CreatePipeline(ctx context.Context, p *models.PipelineRequest) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.Status == "" {
		p.Status = models.StatusValidating
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	files, err := json.Marshal(p.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files_changed: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.UserName, p.Prompt, p.SkillID, p.Branch, string(p.Status), p.Error,
		p.PRNumber, p.PRURL, p.CommitSHA, string(files), p.ChecksStatus, p.DeployStatus, p.DeployURL,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	s.notify(p)
	return nil
}

func scanPipeline(row interface{ Scan(...any) error }) (*models.PipelineRequest, error) {
	p := &models.PipelineRequest{}
	var status, files string
	err := row.Scan(&p.ID, &p.SessionID, &p.UserName, &p.Prompt, &p.SkillID, &p.Branch, &status, &p.Error,
		&p.PRNumber, &p.PRURL, &p.CommitSHA, &files, &p.ChecksStatus, &p.DeployStatus, &p.DeployURL,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PipelineStatus(status)
	if err := json.Unmarshal([]byte(files), &p.FilesChanged); err != nil {
		return nil, fmt.Errorf("unmarshal files_changed: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*models.PipelineRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPipelines(ctx context.Context, limit int) ([]*models.PipelineRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineRequest
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePipeline applies a field-level merge write. Status moves only
// forward through the state machine; a regressive status in u is
// silently dropped while the other fields still apply. The read and the
// write share one transaction so concurrent writers cannot interleave
// between the status check and the update.
func (s *SQLiteStore) UpdatePipeline(ctx context.Context, id string, u PipelineUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var statusStr string
	err = tx.QueryRowContext(ctx, `SELECT status FROM pipelines WHERE id = ?`, id).Scan(&statusStr)
	if err == sql.ErrNoRows {
		return fmt.Errorf("pipeline not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("get pipeline: %w", err)
	}
	currentStatus := models.PipelineStatus(statusStr)

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Status != nil && currentStatus.CanTransition(*u.Status) {
		set("status", string(*u.Status))
	}
	if u.Error != nil {
		set("error", *u.Error)
	}
	if u.PRNumber != nil {
		set("pr_number", *u.PRNumber)
	}
	if u.PRURL != nil {
		set("pr_url", *u.PRURL)
	}
	if u.CommitSHA != nil {
		set("commit_sha", *u.CommitSHA)
	}
	if u.FilesChanged != nil {
		files, err := json.Marshal(u.FilesChanged)
		if err != nil {
			return fmt.Errorf("marshal files_changed: %w", err)
		}
		set("files_changed", string(files))
	}
	if u.ChecksStatus != nil {
		set("checks_status", *u.ChecksStatus)
	}
	if u.DeployStatus != nil {
		set("deploy_status", *u.DeployStatus)
	}
	if u.DeployURL != nil {
		set("deploy_url", *u.DeployURL)
	}

	if len(sets) == 0 {
		return nil
	}
	set("updated_at", time.Now().UTC())

	query := "UPDATE pipelines SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	if updated, err := s.GetPipeline(ctx, id); err == nil {
		s.notify(updated)
	}
	return nil
}

// --- Watchers ---

// Watch subscribes to writes against one pipeline document. Slow
// consumers miss intermediate states rather than blocking writers.
func (s *SQLiteStore) Watch(id string) (<-chan *models.PipelineRequest, func()) {
	ch := make(chan *models.PipelineRequest, 16)

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.watchers[id]
		for i, c := range chans {
			if c == ch {
				s.watchers[id] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
	}
	return ch, cancel
}

func (s *SQLiteStore) notify(p *models.PipelineRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[p.ID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// --- Config override ---

func (s *SQLiteStore) ConfigOverride(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT raw FROM config_override WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config override: %w", err)
	}
	return raw, nil
}

func (s *SQLiteStore) SetConfigOverride(ctx context.Context, raw []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_override (id, raw, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET raw = excluded.raw, updated_at = excluded.updated_at`,
		raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set config override: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearConfigOverride(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config_override WHERE id = 1`); err != nil {
		return fmt.Errorf("clear config override: %w", err)
	}
	return nil
}
