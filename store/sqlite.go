package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL,
	stack           TEXT NOT NULL DEFAULT '',
	settings        TEXT NOT NULL DEFAULT '{}',
	generated_files TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	last_built_at   TEXT,
	preview_url     TEXT NOT NULL DEFAULT '',
	subdomain       TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_subdomain ON projects(subdomain);

CREATE TABLE IF NOT EXISTS generation_requests (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	prompt       TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       TEXT,
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}',
	auto_deploy  INTEGER NOT NULL DEFAULT 0,
	processed_at TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_requests_status ON generation_requests(status, created_at);

CREATE TABLE IF NOT EXISTS containers (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	handle     TEXT NOT NULL DEFAULT '',
	backend    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	port       INTEGER NOT NULL DEFAULT 0,
	url        TEXT NOT NULL DEFAULT '',
	started_at TEXT,
	stopped_at TEXT,
	logs       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_containers_project ON containers(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_containers_status ON containers(status);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const projectColumns = `id, user_id, name, stack, settings, generated_files, status, last_built_at,
	preview_url, subdomain, created_at, updated_at`

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func (s *SQLiteStore) GetProjectBySubdomain(ctx context.Context, subdomain string) (*types.Project, error) {
	if subdomain == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE subdomain = ? LIMIT 1`, subdomain)
	return scanProject(row)
}

func (s *SQLiteStore) SaveProject(ctx context.Context, p *types.Project) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	files, err := json.Marshal(p.GeneratedFiles)
	if err != nil {
		return fmt.Errorf("encode generated files: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			stack = excluded.stack,
			settings = excluded.settings,
			generated_files = excluded.generated_files,
			status = excluded.status,
			last_built_at = excluded.last_built_at,
			preview_url = excluded.preview_url,
			subdomain = excluded.subdomain,
			updated_at = excluded.updated_at`,
		p.ID, p.UserID, p.Name, p.Stack, string(settings), string(files), string(p.Status),
		formatTimePtr(p.LastBuiltAt), p.PreviewURL, p.Subdomain,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

const requestColumns = `id, project_id, prompt, status, result, tokens_used, metadata, auto_deploy,
	processed_at, created_at`

func (s *SQLiteStore) GetGenerationRequest(ctx context.Context, id string) (*types.GenerationRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM generation_requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *SQLiteStore) SaveGenerationRequest(ctx context.Context, r *types.GenerationRequest) error {
	var result sql.NullString
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			tokens_used = excluded.tokens_used,
			metadata = excluded.metadata,
			auto_deploy = excluded.auto_deploy,
			processed_at = excluded.processed_at`,
		r.ID, r.ProjectID, r.Prompt, string(r.Status), result, r.TokensUsed, string(metadata),
		r.AutoDeploy, formatTimePtr(r.ProcessedAt), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save generation request %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListGenerationRequests(ctx context.Context, status types.RequestStatus, limit int) ([]*types.GenerationRequest, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM generation_requests
		WHERE status = ? ORDER BY created_at ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", status, err)
	}
	defer rows.Close()

	var out []*types.GenerationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const containerColumns = `id, project_id, handle, backend, status, port, url, started_at, stopped_at,
	logs, created_at`

func (s *SQLiteStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = ?`, id)
	return scanContainer(row)
}

func (s *SQLiteStore) SaveContainer(ctx context.Context, c *types.Container) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			handle = excluded.handle,
			backend = excluded.backend,
			status = excluded.status,
			port = excluded.port,
			url = excluded.url,
			started_at = excluded.started_at,
			stopped_at = excluded.stopped_at,
			logs = excluded.logs`,
		c.ID, c.ProjectID, c.Handle, string(c.Backend), string(c.Status), c.Port, c.URL,
		formatTimePtr(c.StartedAt), formatTimePtr(c.StoppedAt), c.Logs, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save container %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListContainersByProject(ctx context.Context, projectID string) ([]*types.Container, error) {
	return s.queryContainers(ctx, `SELECT `+containerColumns+` FROM containers
		WHERE project_id = ? ORDER BY created_at DESC`, projectID)
}

func (s *SQLiteStore) ActiveContainer(ctx context.Context, projectID string) (*types.Container, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+containerColumns+` FROM containers
		WHERE project_id = ? AND status != ? ORDER BY created_at DESC LIMIT 1`,
		projectID, string(types.ContainerStopped))
	return scanContainer(row)
}

func (s *SQLiteStore) RunningContainers(ctx context.Context) ([]*types.Container, error) {
	return s.queryContainers(ctx, `SELECT `+containerColumns+` FROM containers WHERE status = ?`,
		string(types.ContainerRunning))
}

func (s *SQLiteStore) queryContainers(ctx context.Context, query string, args ...any) ([]*types.Container, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	defer rows.Close()

	var out []*types.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*types.Project, error) {
	var (
		p                    types.Project
		status               string
		settings, files      string
		lastBuilt            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Stack, &settings, &files, &status, &lastBuilt,
		&p.PreviewURL, &p.Subdomain, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Status = types.ProjectStatus(status)
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, fmt.Errorf("decode settings for project %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(files), &p.GeneratedFiles); err != nil {
		return nil, fmt.Errorf("decode generated files for project %s: %w", p.ID, err)
	}
	p.LastBuiltAt = parseTimePtr(lastBuilt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func scanRequest(row scanner) (*types.GenerationRequest, error) {
	var (
		r           types.GenerationRequest
		status      string
		result      sql.NullString
		metadata    string
		processedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.Prompt, &status, &result, &r.TokensUsed, &metadata,
		&r.AutoDeploy, &processedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation request: %w", err)
	}
	r.Status = types.RequestStatus(status)
	if result.Valid {
		r.Result = &types.GenerationResult{}
		if err := json.Unmarshal([]byte(result.String), r.Result); err != nil {
			return nil, fmt.Errorf("decode result for request %s: %w", r.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for request %s: %w", r.ID, err)
	}
	r.ProcessedAt = parseTimePtr(processedAt)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func scanContainer(row scanner) (*types.Container, error) {
	var (
		c                    types.Container
		backend, status      string
		startedAt, stoppedAt sql.NullString
		createdAt            string
	)
	err := row.Scan(&c.ID, &c.ProjectID, &c.Handle, &backend, &status, &c.Port, &c.URL,
		&startedAt, &stoppedAt, &c.Logs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan container: %w", err)
	}
	c.Backend = types.Backend(backend)
	c.Status = types.ContainerStatus(status)
	c.StartedAt = parseTimePtr(startedAt)
	c.StoppedAt = parseTimePtr(stoppedAt)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
