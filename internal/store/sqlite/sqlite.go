// Package sqlite implements the event and project stores on SQLite.
//
// The database runs in WAL mode with one writer connection and a separate
// read pool, so scans and aggregates never block inserts and inserts never
// block readers. Each read statement sees one committed snapshot.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/mattn/go-sqlite3"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/logging"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Options tunes the connections.
type Options struct {
	ReadPoolSize int
	BusyTimeout  time.Duration
	Logger       *slog.Logger

	// Now overrides the wall clock; nil uses time.Now.
	Now func() time.Time
}

// Store is the SQLite-backed store.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertEventStmt *sql.Stmt
	lastCreatedAt   int64

	now    func() time.Time
	logger *slog.Logger
}

const eventColumns = `id, event_name, user_id, session_id, properties, user_properties,
	timestamp, ip_address, user_agent, created_at, project_id`

const projectColumns = `id, name, slug, description, event_retention_days, monthly_event_limit,
	is_active, created_at, updated_at`

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.ReadPoolSize < 1 {
		opts.ReadPoolSize = 4
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	busy := opts.BusyTimeout.Milliseconds()

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", dbPath, busy))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		now:    opts.Now,
		logger: opts.Logger.With("component", "sqlite_store"),
	}

	// Initialize schema before readers attach
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to initialize schema: %w", err)
	}

	// Read connection pool: concurrent query-only readers
	readDB, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_query_only=true", dbPath, busy))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(opts.ReadPoolSize)
	readDB.SetMaxIdleConns(opts.ReadPoolSize)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO events (
			event_name, user_id, session_id, properties, user_properties,
			timestamp, ip_address, user_agent, created_at, project_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.closeDBs()
		return nil, fmt.Errorf("sqlite: failed to prepare insert statement: %w", err)
	}
	s.insertEventStmt = insertStmt

	if err := db.QueryRow("SELECT COALESCE(MAX(created_at), 0) FROM events").Scan(&s.lastCreatedAt); err != nil {
		s.Close()
		return nil, fmt.Errorf("sqlite: failed to read last created_at: %w", err)
	}

	s.logger.Info("event store opened", "path", dbPath, "read_pool_size", opts.ReadPoolSize)
	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Insert persists ev. created_at never goes backwards even if the wall clock does.
func (s *Store) Insert(ctx context.Context, ev *types.Event) (*types.Event, error) {
	if ev == nil || ev.EventName == "" {
		return nil, errors.NewPersistenceError(errors.CodeConstraintViolation, "event_name must not be empty", nil)
	}
	if !ev.Timestamp.IsZero() && !types.TimestampInRange(ev.Timestamp) {
		return nil, errors.NewPersistenceError(errors.CodeConstraintViolation,
			fmt.Sprintf("timestamp %s is outside the storable range", ev.Timestamp.Format(time.RFC3339)), nil)
	}

	props, err := encodeProperties(ev.Properties)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to encode properties: %w", err)
	}
	userProps, err := encodeProperties(ev.UserProperties)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to encode user properties: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UnixNano()
	if createdAt < s.lastCreatedAt {
		createdAt = s.lastCreatedAt
	}

	stored := ev.Clone()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Unix(0, createdAt)
	}
	stored.Timestamp = stored.Timestamp.UTC()
	stored.CreatedAt = time.Unix(0, createdAt).UTC()

	res, err := s.insertEventStmt.ExecContext(ctx,
		stored.EventName, stored.UserID, stored.SessionID, props, userProps,
		stored.Timestamp.UnixNano(), stored.IPAddress, stored.UserAgent, createdAt, stored.ProjectID,
	)
	if err != nil {
		return nil, classifyWriteError("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read event id: %w", err)
	}
	s.lastCreatedAt = createdAt
	stored.ID = id

	s.logger.Debug("event inserted", "id", id, "event_name", stored.EventName)
	return stored, nil
}

// Scan returns a cursor streaming rows from the read pool.
func (s *Store) Scan(ctx context.Context, pred store.Predicate, order store.Order, limit, offset int) (store.Cursor, error) {
	var orderBy string
	switch order {
	case store.OrderRecency:
		orderBy = "timestamp DESC, id DESC"
	case store.OrderInsertion:
		orderBy = "id ASC"
	default:
		return nil, fmt.Errorf("sqlite: unknown order %d", order)
	}
	if limit < 0 {
		limit = -1
	}

	where, args := whereClause(pred)
	query := "SELECT " + eventColumns + " FROM events" + where +
		" ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan events: %w", err)
	}
	return &cursor{rows: rows}, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, pred store.Predicate) (int64, error) {
	where, args := whereClause(pred)
	var n int64
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count events: %w", err)
	}
	return n, nil
}

// CountDistinct counts distinct non-null values of col. SQL COUNT(DISTINCT)
// already skips NULLs.
func (s *Store) CountDistinct(ctx context.Context, pred store.Predicate, col store.Column) (int64, error) {
	if err := checkStringColumn(col); err != nil {
		return 0, err
	}
	where, args := whereClause(pred)
	var n int64
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM events%s", col, where)
	if err := s.readDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count distinct %s: %w", col, err)
	}
	return n, nil
}

// GroupCount counts rows per non-null value of col.
func (s *Store) GroupCount(ctx context.Context, pred store.Predicate, col store.Column) (map[string]int64, error) {
	if err := checkStringColumn(col); err != nil {
		return nil, err
	}
	where, args := whereClause(pred, string(col)+" IS NOT NULL")
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM events%s GROUP BY %s", col, where, col)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to group by %s: %w", col, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan group: %w", err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating groups: %w", err)
	}
	return out, nil
}

// MinMax returns the timestamp bounds of matching events.
func (s *Store) MinMax(ctx context.Context, pred store.Predicate, col store.Column) (types.DateRange, error) {
	if col != store.ColumnTimestamp {
		return types.DateRange{}, fmt.Errorf("sqlite: min/max unsupported on column %q", col)
	}
	where, args := whereClause(pred)
	var lo, hi sql.NullInt64
	if err := s.readDB.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM events"+where, args...).Scan(&lo, &hi); err != nil {
		return types.DateRange{}, fmt.Errorf("sqlite: failed to read timestamp bounds: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return types.DateRange{}, nil
	}
	start := time.Unix(0, lo.Int64).UTC()
	end := time.Unix(0, hi.Int64).UTC()
	return types.DateRange{Start: &start, End: &end}, nil
}

// GroupStats counts rows and distinct values per group in a single statement.
func (s *Store) GroupStats(ctx context.Context, pred store.Predicate, group, distinct store.Column) ([]store.GroupStat, error) {
	if err := checkStringColumn(group); err != nil {
		return nil, err
	}
	if err := checkStringColumn(distinct); err != nil {
		return nil, err
	}
	where, args := whereClause(pred, string(group)+" IS NOT NULL")
	query := fmt.Sprintf("SELECT %s, COUNT(*), COUNT(DISTINCT %s) FROM events%s GROUP BY %s ORDER BY %s",
		group, distinct, where, group, group)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to compute group stats: %w", err)
	}
	defer rows.Close()

	var out []store.GroupStat
	for rows.Next() {
		var gs store.GroupStat
		if err := rows.Scan(&gs.Key, &gs.Count, &gs.Distinct); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan group stats: %w", err)
		}
		out = append(out, gs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating group stats: %w", err)
	}
	return out, nil
}

// BucketCount counts events per UTC bucket. The bucket expression floors
// toward negative infinity so pre-epoch timestamps land in the right bucket.
func (s *Store) BucketCount(ctx context.Context, pred store.Predicate, width time.Duration) ([]types.TimeBucket, error) {
	if width <= 0 {
		return nil, fmt.Errorf("sqlite: bucket width must be positive")
	}
	w := int64(width)
	where, whereArgs := whereClause(pred)
	query := "SELECT timestamp - (((timestamp % ?) + ?) % ?) AS bucket, COUNT(*) FROM events" +
		where + " GROUP BY bucket ORDER BY bucket"
	args := append([]interface{}{w, w, w}, whereArgs...)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to bucket events: %w", err)
	}
	defer rows.Close()

	var out []types.TimeBucket
	for rows.Next() {
		var start, n int64
		if err := rows.Scan(&start, &n); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan bucket: %w", err)
		}
		out = append(out, types.TimeBucket{Start: time.Unix(0, start).UTC(), Count: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating buckets: %w", err)
	}
	return out, nil
}

// CreateProject inserts a project. A taken slug yields DUPLICATE_SLUG.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (
			name, slug, description, event_retention_days, monthly_event_limit,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Slug, p.Description, p.EventRetentionDays, p.MonthlyEventLimit,
		p.IsActive, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.NewPersistenceError(errors.CodeDuplicateSlug,
				fmt.Sprintf("project slug %q already exists", p.Slug), err)
		}
		return nil, classifyWriteError("create project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read project id: %w", err)
	}

	out := *p
	out.ID = id
	out.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	out.UpdatedAt = out.CreatedAt
	return &out, nil
}

// GetProject returns the project with the given slug.
func (s *Store) GetProject(ctx context.Context, slug string) (*types.Project, error) {
	row := s.readDB.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE slug = ?", slug)
	return scanProject(row, slug)
}

// ListProjects returns projects ordered by id.
func (s *Store) ListProjects(ctx context.Context, includeInactive bool) ([]*types.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	if !includeInactive {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating projects: %w", err)
	}
	return out, nil
}

// UpdateProject applies u inside one write transaction.
func (s *Store) UpdateProject(ctx context.Context, slug string, u types.ProjectUpdate) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanProject(tx.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE slug = ?", slug), slug)
	if err != nil {
		return nil, err
	}
	u.Apply(p)
	p.UpdatedAt = time.Unix(0, s.now().UnixNano()).UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, event_retention_days = ?,
			monthly_event_limit = ?, is_active = ?, updated_at = ?
		WHERE slug = ?`,
		p.Name, p.Description, p.EventRetentionDays, p.MonthlyEventLimit,
		p.IsActive, p.UpdatedAt.UnixNano(), slug,
	)
	if err != nil {
		return nil, classifyWriteError("update project", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return p, nil
}

// SetProjectActive toggles the activity flag.
func (s *Store) SetProjectActive(ctx context.Context, slug string, active bool) (*types.Project, error) {
	return s.UpdateProject(ctx, slug, types.ProjectUpdate{IsActive: &active})
}

// Ping checks both connection pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewPersistenceError(errors.CodeStoreUnavailable, "sqlite writer unavailable", err)
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return errors.NewPersistenceError(errors.CodeStoreUnavailable, "sqlite readers unavailable", err)
	}
	return nil
}

// Close closes the prepared statement and both pools.
func (s *Store) Close() error {
	if s.insertEventStmt != nil {
		s.insertEventStmt.Close()
	}
	return s.closeDBs()
}

func (s *Store) closeDBs() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	errs = append(errs, s.db.Close())
	return stderrors.Join(errs...)
}

// whereClause renders pred (plus any fixed conditions) as a WHERE clause.
func whereClause(pred store.Predicate, extra ...string) (string, []interface{}) {
	conds := append([]string(nil), extra...)
	var args []interface{}

	if pred.Project != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, pred.Project)
	}
	if pred.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, pred.Since.UnixNano())
	}
	if pred.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, pred.Until.UnixNano())
	}
	if pred.EventName != "" {
		conds = append(conds, "event_name = ?")
		args = append(args, pred.EventName)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// checkStringColumn guards the column names interpolated into SQL.
func checkStringColumn(col store.Column) error {
	if !col.Valid() || col == store.ColumnTimestamp {
		return fmt.Errorf("sqlite: unsupported column %q", col)
	}
	return nil
}

func encodeProperties(p types.Properties) ([]byte, error) {
	raw, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return snappy.Encode(nil, raw), nil
}

func decodeProperties(data []byte) (types.Properties, error) {
	var p types.Properties
	if len(data) == 0 {
		return p, nil
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return p, fmt.Errorf("snappy decode: %w", err)
	}
	if err := p.UnmarshalBinary(raw); err != nil {
		return p, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*types.Event, error) {
	var ev types.Event
	var props, userProps []byte
	var ts, createdAt int64

	err := row.Scan(
		&ev.ID, &ev.EventName, &ev.UserID, &ev.SessionID, &props, &userProps,
		&ts, &ev.IPAddress, &ev.UserAgent, &createdAt, &ev.ProjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan event: %w", err)
	}
	ev.Timestamp = time.Unix(0, ts).UTC()
	ev.CreatedAt = time.Unix(0, createdAt).UTC()

	if ev.Properties, err = decodeProperties(props); err != nil {
		return nil, fmt.Errorf("sqlite: event %d properties: %w", ev.ID, err)
	}
	if ev.UserProperties, err = decodeProperties(userProps); err != nil {
		return nil, fmt.Errorf("sqlite: event %d user properties: %w", ev.ID, err)
	}
	return &ev, nil
}

func scanProject(row rowScanner, slug string) (*types.Project, error) {
	var p types.Project
	var createdAt, updatedAt int64
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.EventRetentionDays, &p.MonthlyEventLimit,
		&p.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError(errors.CodeProjectNotFound, fmt.Sprintf("project %q not found", slug))
		}
		return nil, fmt.Errorf("sqlite: failed to scan project: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return stderrors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// classifyWriteError turns constraint failures into CONSTRAINT_VIOLATION and
// a locked database into STORE_UNAVAILABLE. Other errors are wrapped as-is.
func classifyWriteError(op string, err error) error {
	var se sqlite3.Error
	if stderrors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return errors.NewPersistenceError(errors.CodeConstraintViolation, op+" violated a constraint", err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errors.NewPersistenceError(errors.CodeStoreUnavailable, op+": database busy", err)
		}
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

type cursor struct {
	rows    *sql.Rows
	current *types.Event
	err     error
}

func (c *cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	ev, err := scanEvent(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.current = ev
	return true
}

func (c *cursor) Event() *types.Event { return c.current }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("sqlite: error iterating events: %w", err)
	}
	return nil
}

func (c *cursor) Close() error { return c.rows.Close() }

var _ store.Store = (*Store)(nil)
