// Package callstore records completed prompt calls in SQLite.
package callstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/migrations"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const table = "calls"

var columns = []string{
	"id", "name", "provider", "model", "template", "args", "metadata", "content", "tool_calls",
	"input_tokens", "output_tokens", "cost", "elapsed_ms", "streamed", "error", "created_at",
}

// Record is one persisted call.
type Record struct {
	ID           string
	Name         string
	Provider     string
	Model        string
	Template     string
	Args         string
	Metadata     string
	Content      string
	ToolCalls    string
	InputTokens  int64
	OutputTokens int64
	// Cost is nil when the model has no known price.
	Cost      *float64
	Elapsed   time.Duration
	Streamed  bool
	Error     string
	CreatedAt time.Time
}

// Store persists one row per completed call. It implements call.Observer,
// so it can be attached to any Function with call.WithObserver.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

var _ call.Observer = (*Store)(nil)

type startKey struct{}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger = logger.With().Str("component", "callstore").Logger()
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeforeCall remembers when the call started so streamed calls get an
// elapsed time too.
func (s *Store) BeforeCall(ctx context.Context, inv *call.Invocation) context.Context {
	return context.WithValue(ctx, startKey{}, s.now())
}

// AfterCall persists a synchronous call.
func (s *Store) AfterCall(ctx context.Context, inv *call.Invocation, resp *call.Response, err error) {
	rec := s.baseRecord(ctx, inv)
	if resp != nil {
		rec.Model = resp.Model()
		rec.Content = resp.Content()
		rec.ToolCalls = encodeToolCalls(resp.ToolCalls())
		rec.InputTokens = resp.InputTokens()
		rec.OutputTokens = resp.OutputTokens()
		rec.Elapsed = resp.Elapsed()
		if c, ok := resp.Cost(); ok {
			rec.Cost = &c
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.save(ctx, rec)
}

// AfterStream persists a streamed call from whatever the stream
// accumulated before it finished.
func (s *Store) AfterStream(ctx context.Context, inv *call.Invocation, st *call.Stream, err error) {
	rec := s.baseRecord(ctx, inv)
	rec.Streamed = true
	if st != nil {
		usage := st.Usage()
		rec.Model = st.Model()
		rec.Content = st.Content()
		rec.ToolCalls = encodeToolCalls(st.ToolCalls())
		rec.InputTokens = usage.InputTokens
		rec.OutputTokens = usage.OutputTokens
		if resp, rerr := st.Response(); rerr == nil {
			if c, ok := resp.Cost(); ok {
				rec.Cost = &c
			}
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.save(ctx, rec)
}

func (s *Store) baseRecord(ctx context.Context, inv *call.Invocation) Record {
	rec := Record{
		Name:     inv.Name,
		Provider: inv.Provider,
		Model:    inv.Model,
		Template: inv.Template,
		Args:     encode(inv.Args),
		Metadata: encode(inv.Metadata),
	}
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		rec.Elapsed = s.now().Sub(start)
	}
	return rec
}

// save is the observer path: there is no caller to return the error to,
// so failures are logged.
func (s *Store) save(ctx context.Context, rec Record) {
	if err := s.Insert(context.WithoutCancel(ctx), &rec); err != nil {
		s.logger.Error().Err(err).Str("name", rec.Name).Msg("Failed to record call")
	}
}

// Insert writes rec, assigning an ID and creation time when missing.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	var cost any
	if rec.Cost != nil {
		cost = *rec.Cost
	}
	query := sq.Insert(table).
		Columns(columns...).
		Values(
			rec.ID, rec.Name, rec.Provider, rec.Model, rec.Template, rec.Args, rec.Metadata,
			rec.Content, rec.ToolCalls, rec.InputTokens, rec.OutputTokens, cost,
			rec.Elapsed.Milliseconds(), rec.Streamed, nullable(rec.Error), rec.CreatedAt.UnixNano(),
		)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	s.logger.Debug().Str("id", rec.ID).Str("name", rec.Name).Msg("Recorded call")
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := sq.Select(columns...).
		From(table).
		OrderBy("created_at DESC", "rowid DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                           Record
			template, args, meta, content sql.NullString
			toolCalls, callErr            sql.NullString
			cost                          sql.NullFloat64
			elapsedMS, createdAt          int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Provider, &rec.Model, &template, &args, &meta, &content, &toolCalls,
			&rec.InputTokens, &rec.OutputTokens, &cost, &elapsedMS, &rec.Streamed, &callErr, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Template = template.String
		rec.Args = args.String
		rec.Metadata = meta.String
		rec.Content = content.String
		rec.ToolCalls = toolCalls.String
		rec.Error = callErr.String
		if cost.Valid {
			c := cost.Float64
			rec.Cost = &c
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TotalCost sums the cost of every recorded call with a known price.
func (s *Store) TotalCost(ctx context.Context) (float64, error) {
	queryStr, args, err := sq.Select("COALESCE(SUM(cost), 0)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var total float64
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return total, nil
}

func encode(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func encodeToolCalls(calls []llm.ToolUseBlock) string {
	if len(calls) == 0 {
		return ""
	}
	return encode(calls)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
