package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// This file extends SQLiteStore beyond the original MetadataStore interface
// with the tables the retrieval pipeline needs: spans (the unit graph
// expansion and packing operate on), reference edges (the graph itself),
// memory/session/interaction records (the Learn path), and small
// key-value-shaped caches for policy decisions, signatures, reranker
// results, packing profiles and job runs. These ride on the same
// connection and pragmas as the rest of SQLiteStore; initExtSchema is
// called once from NewSQLiteStoreWithConfig alongside initSchema.

// Span is a persisted, content-addressed code span (see internal/chunk.Span).
type Span struct {
	ID        string
	Repo      string
	Path      string
	ByteStart uint32
	ByteEnd   uint32
	Kind      string
	Name      string
	Signature string
	Doc       string
	StartLine int
	EndLine   int
}

// Reference is a persisted directed edge between spans (see internal/chunk.Reference).
type Reference struct {
	SrcSpanID string
	DstPath   string
	DstSpanID string // resolved by the Graph Expander; empty until resolution
	DstName   string
	Kind      string
}

// MemoryItem is a durable note recorded via the Remember operation.
type MemoryItem struct {
	ID        string
	ProjectID string
	Kind      string // "decision", "gotcha", "preference", "fact"
	Content   string
	Tags      string // comma-joined
	CreatedAt time.Time
}

// Interaction is a single query/result/feedback record feeding the Learn
// path. Beyond the click/feedback fields it carries everything outcome
// analysis needs: the bundle signature, per-source weights and policy
// thresholds that produced it, and the token usage the packing engine
// reported.
type Interaction struct {
	ID               string
	ProjectID        string
	Query            string
	Intent           string
	ResultIDs        string // comma-joined chunk ids returned
	Accepted         string // comma-joined chunk ids the caller actually used
	Feedback         string // "positive", "negative", "" (unknown)
	LatencyMS        int
	OccurredAt       time.Time
	BundleSignature  string
	TopClick         string
	Satisfied        sql.NullBool
	TimeToFixMS      int
	TokenUsage       int
	SeedWeightsJSON  string // json-encoded map[string]float64
	PolicyThresholds string // json-encoded policy.Decision-shaped summary
}

// JobRun records one execution of a background job (reindex, tuning pass, etc).
type JobRun struct {
	ID        string
	Kind      string
	Status    string // "running", "succeeded", "failed"
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

func (s *SQLiteStore) initExtSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spans (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		path TEXT NOT NULL,
		byte_start INTEGER NOT NULL,
		byte_end INTEGER NOT NULL,
		kind TEXT NOT NULL,
		name TEXT,
		signature TEXT,
		doc TEXT,
		start_line INTEGER,
		end_line INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_spans_path ON spans(repo, path);
	CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);

	CREATE TABLE IF NOT EXISTS references_ (
		src_span_id TEXT NOT NULL,
		dst_path TEXT,
		dst_span_id TEXT,
		dst_name TEXT,
		kind TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_references_src ON references_(src_span_id);
	CREATE INDEX IF NOT EXISTS idx_references_dst_name ON references_(dst_name);
	CREATE INDEX IF NOT EXISTS idx_references_dst_span ON references_(dst_span_id);

	CREATE TABLE IF NOT EXISTS memory_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT,
		created_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_items(project_id);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		query TEXT NOT NULL,
		intent TEXT,
		result_ids TEXT,
		accepted TEXT,
		feedback TEXT,
		latency_ms INTEGER,
		occurred_at TIMESTAMP,
		bundle_signature TEXT,
		top_click TEXT,
		satisfied BOOLEAN,
		time_to_fix_ms INTEGER,
		token_usage INTEGER,
		seed_weights_json TEXT,
		policy_thresholds TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_project ON interactions(project_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_intent ON interactions(intent, occurred_at);

	CREATE TABLE IF NOT EXISTS policy_weights (
		repo TEXT NOT NULL,
		intent TEXT NOT NULL,
		version INTEGER NOT NULL,
		weights_json TEXT NOT NULL,
		early_stop_threshold INTEGER NOT NULL,
		max_depth INTEGER NOT NULL,
		updated_at TIMESTAMP,
		PRIMARY KEY (repo, intent, version)
	);
	CREATE INDEX IF NOT EXISTS idx_policy_weights_current ON policy_weights(repo, intent, version DESC);

	CREATE TABLE IF NOT EXISTS signature_cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rerank_cache (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS packing_profiles (
		name TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		updated_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT,
		started_at TIMESTAMP,
		ended_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs(kind, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Span operations ---

func (s *SQLiteStore) SaveSpans(ctx context.Context, spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (id, repo, path, byte_start, byte_end, kind, name, signature, doc, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare span insert: %w", err)
	}
	defer stmt.Close()

	for _, sp := range spans {
		if _, err := stmt.ExecContext(ctx, sp.ID, sp.Repo, sp.Path, sp.ByteStart, sp.ByteEnd, sp.Kind, sp.Name, sp.Signature, sp.Doc, sp.StartLine, sp.EndLine); err != nil {
			return fmt.Errorf("save span %s: %w", sp.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSpan(ctx context.Context, id string) (*Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo, path, byte_start, byte_end, kind, name, signature, doc, start_line, end_line
		FROM spans WHERE id = ?`, id)
	return scanSpan(row)
}

func scanSpan(row *sql.Row) (*Span, error) {
	sp := &Span{}
	err := row.Scan(&sp.ID, &sp.Repo, &sp.Path, &sp.ByteStart, &sp.ByteEnd, &sp.Kind, &sp.Name, &sp.Signature, &sp.Doc, &sp.StartLine, &sp.EndLine)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan span: %w", err)
	}
	return sp, nil
}

func (s *SQLiteStore) GetSpansByFile(ctx context.Context, repo, path string) ([]*Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, path, byte_start, byte_end, kind, name, signature, doc, start_line, end_line
		FROM spans WHERE repo = ? AND path = ? ORDER BY byte_start`, repo, path)
	if err != nil {
		return nil, fmt.Errorf("get spans by file: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		sp := &Span{}
		if err := rows.Scan(&sp.ID, &sp.Repo, &sp.Path, &sp.ByteStart, &sp.ByteEnd, &sp.Kind, &sp.Name, &sp.Signature, &sp.Doc, &sp.StartLine, &sp.EndLine); err != nil {
			return nil, fmt.Errorf("scan span row: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func (s *SQLiteStore) FindSpansByName(ctx context.Context, name string, limit int) ([]*Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, path, byte_start, byte_end, kind, name, signature, doc, start_line, end_line
		FROM spans WHERE name = ? LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("find spans by name: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		sp := &Span{}
		if err := rows.Scan(&sp.ID, &sp.Repo, &sp.Path, &sp.ByteStart, &sp.ByteEnd, &sp.Kind, &sp.Name, &sp.Signature, &sp.Doc, &sp.StartLine, &sp.EndLine); err != nil {
			return nil, fmt.Errorf("scan span row: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func (s *SQLiteStore) DeleteSpansByFile(ctx context.Context, repo, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM spans WHERE repo = ? AND path = ?`, repo, path)
	if err != nil {
		return fmt.Errorf("delete spans by file: %w", err)
	}
	return nil
}

// --- Reference operations ---

func (s *SQLiteStore) SaveReferences(ctx context.Context, refs []*Reference) error {
	if len(refs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO references_ (src_span_id, dst_path, dst_span_id, dst_name, kind)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reference insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.SrcSpanID, r.DstPath, r.DstSpanID, r.DstName, r.Kind); err != nil {
			return fmt.Errorf("save reference from %s: %w", r.SrcSpanID, err)
		}
	}
	return tx.Commit()
}

// GetOutgoingReferences returns edges whose source is srcSpanID, the
// primary access pattern for one BFS expansion step.
func (s *SQLiteStore) GetOutgoingReferences(ctx context.Context, srcSpanID string) ([]*Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT src_span_id, dst_path, dst_span_id, dst_name, kind
		FROM references_ WHERE src_span_id = ?`, srcSpanID)
	if err != nil {
		return nil, fmt.Errorf("get outgoing references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// ResolveReferenceTargets backfills dst_span_id for call/test-of edges whose
// destination name now matches a known span, a step the Graph Expander runs
// lazily since callee resolution depends on the whole index being present.
func (s *SQLiteStore) ResolveReferenceTargets(ctx context.Context, dstName, dstSpanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE references_ SET dst_span_id = ? WHERE dst_name = ? AND (dst_span_id IS NULL OR dst_span_id = '')`,
		dstSpanID, dstName)
	if err != nil {
		return fmt.Errorf("resolve reference targets: %w", err)
	}
	return nil
}

func scanReferences(rows *sql.Rows) ([]*Reference, error) {
	var refs []*Reference
	for rows.Next() {
		r := &Reference{}
		var dstPath, dstSpanID, dstName sql.NullString
		if err := rows.Scan(&r.SrcSpanID, &dstPath, &dstSpanID, &dstName, &r.Kind); err != nil {
			return nil, fmt.Errorf("scan reference row: %w", err)
		}
		r.DstPath = dstPath.String
		r.DstSpanID = dstSpanID.String
		r.DstName = dstName.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) DeleteReferencesBySrcPrefix(ctx context.Context, repo, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM references_ WHERE src_span_id IN (SELECT id FROM spans WHERE repo = ? AND path = ?)`,
		repo, path)
	if err != nil {
		return fmt.Errorf("delete references by src prefix: %w", err)
	}
	return nil
}

// --- Memory operations ---

func (s *SQLiteStore) SaveMemoryItem(ctx context.Context, m *MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items (id, project_id, kind, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind, content = excluded.content, tags = excluded.tags`,
		m.ID, m.ProjectID, m.Kind, m.Content, m.Tags, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save memory item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SearchMemory(ctx context.Context, projectID, query string, limit int) ([]*MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, kind, content, tags, created_at
		FROM memory_items WHERE project_id = ? AND content LIKE ? ESCAPE '\'
		ORDER BY created_at DESC LIMIT ?`,
		projectID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var items []*MemoryItem
	for rows.Next() {
		m := &MemoryItem{}
		var createdAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Kind, &m.Content, &m.Tags, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory item: %w", err)
		}
		m.CreatedAt = createdAt.Time
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetMemoryItem(ctx context.Context, id string) (*MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, kind, content, tags, created_at
		FROM memory_items WHERE id = ?`, id)

	m := &MemoryItem{}
	var createdAt sql.NullTime
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Kind, &m.Content, &m.Tags, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get memory item: %w", err)
	}
	m.CreatedAt = createdAt.Time
	return m, nil
}

func (s *SQLiteStore) DeleteMemoryItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory item: %w", err)
	}
	return nil
}

// --- Interaction operations ---

func (s *SQLiteStore) RecordInteraction(ctx context.Context, it *Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, project_id, query, intent, result_ids, accepted, feedback, latency_ms,
			occurred_at, bundle_signature, top_click, satisfied, time_to_fix_ms, token_usage, seed_weights_json, policy_thresholds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProjectID, it.Query, it.Intent, it.ResultIDs, it.Accepted, it.Feedback, it.LatencyMS, it.OccurredAt,
		it.BundleSignature, it.TopClick, it.Satisfied, it.TimeToFixMS, it.TokenUsage, it.SeedWeightsJSON, it.PolicyThresholds)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetInteractionsSince(ctx context.Context, projectID string, since time.Time, limit int) ([]*Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, query, intent, result_ids, accepted, feedback, latency_ms, occurred_at,
			bundle_signature, top_click, satisfied, time_to_fix_ms, token_usage, seed_weights_json, policy_thresholds
		FROM interactions WHERE project_id = ? AND occurred_at > ? ORDER BY occurred_at LIMIT ?`,
		projectID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("get interactions since: %w", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		it := &Interaction{}
		var occurredAt sql.NullTime
		var bundleSig, topClick, seedWeights, policyThresholds sql.NullString
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Query, &it.Intent, &it.ResultIDs, &it.Accepted, &it.Feedback,
			&it.LatencyMS, &occurredAt, &bundleSig, &topClick, &it.Satisfied, &it.TimeToFixMS, &it.TokenUsage,
			&seedWeights, &policyThresholds); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		it.OccurredAt = occurredAt.Time
		it.BundleSignature = bundleSig.String
		it.TopClick = topClick.String
		it.SeedWeightsJSON = seedWeights.String
		it.PolicyThresholds = policyThresholds.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetIncomingReferences returns edges whose resolved destination is
// dstSpanID, the complement of GetOutgoingReferences the Graph Expander
// needs to walk both call/import directions.
func (s *SQLiteStore) GetIncomingReferences(ctx context.Context, dstSpanID string) ([]*Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT src_span_id, dst_path, dst_span_id, dst_name, kind
		FROM references_ WHERE dst_span_id = ?`, dstSpanID)
	if err != nil {
		return nil, fmt.Errorf("get incoming references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// SavePolicyWeights atomically appends a new version for (repo, intent),
// so a tuner rollback record can simply reference the prior version
// number.
func (s *SQLiteStore) SavePolicyWeights(ctx context.Context, repo, intentName string, version int, weightsJSON string, earlyStop, maxDepth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_weights (repo, intent, version, weights_json, early_stop_threshold, max_depth, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, intent, version) DO UPDATE SET
			weights_json = excluded.weights_json, early_stop_threshold = excluded.early_stop_threshold,
			max_depth = excluded.max_depth, updated_at = excluded.updated_at`,
		repo, intentName, version, weightsJSON, earlyStop, maxDepth, time.Now())
	if err != nil {
		return fmt.Errorf("save policy weights: %w", err)
	}
	return nil
}

// PolicyWeightsRow is one versioned snapshot of a repo/intent's tuned
// policy, as persisted by SavePolicyWeights.
type PolicyWeightsRow struct {
	Repo               string
	Intent             string
	Version            int
	WeightsJSON        string
	EarlyStopThreshold int
	MaxDepth           int
	UpdatedAt          time.Time
}

// LatestPolicyWeights returns the highest-versioned row for (repo, intent),
// or nil if none has ever been written.
func (s *SQLiteStore) LatestPolicyWeights(ctx context.Context, repo, intentName string) (*PolicyWeightsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := &PolicyWeightsRow{}
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT repo, intent, version, weights_json, early_stop_threshold, max_depth, updated_at
		FROM policy_weights WHERE repo = ? AND intent = ? ORDER BY version DESC LIMIT 1`,
		repo, intentName).Scan(&row.Repo, &row.Intent, &row.Version, &row.WeightsJSON, &row.EarlyStopThreshold, &row.MaxDepth, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest policy weights: %w", err)
	}
	row.UpdatedAt = updatedAt.Time
	return row, nil
}

// --- Small keyed caches (signature cache, rerank cache, packing profiles) ---

func (s *SQLiteStore) GetCachedValue(ctx context.Context, table, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	var expiresAt sql.NullTime
	query := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = ?`, table) //nolint:gosec // table is an internal constant, never user input
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached value from %s: %w", table, err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) SetCachedValue(ctx context.Context, table, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, table) //nolint:gosec
	_, err := s.db.ExecContext(ctx, query, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set cached value in %s: %w", table, err)
	}
	return nil
}

const (
	SignatureCacheTable = "signature_cache"
	RerankCacheTable    = "rerank_cache"
)

func (s *SQLiteStore) SavePackingProfile(ctx context.Context, name, config string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packing_profiles (name, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		name, config, time.Now())
	if err != nil {
		return fmt.Errorf("save packing profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPackingProfile(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var config string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM packing_profiles WHERE name = ?`, name).Scan(&config)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get packing profile: %w", err)
	}
	return config, nil
}

// --- Job run operations ---

func (s *SQLiteStore) SaveJobRun(ctx context.Context, j *JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, kind, status, detail, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, detail = excluded.detail, ended_at = excluded.ended_at`,
		j.ID, j.Kind, j.Status, j.Detail, j.StartedAt, j.EndedAt)
	if err != nil {
		return fmt.Errorf("save job run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecentJobRuns(ctx context.Context, kind string, limit int) ([]*JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, detail, started_at, ended_at
		FROM job_runs WHERE kind = ? ORDER BY started_at DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent job runs: %w", err)
	}
	defer rows.Close()

	var out []*JobRun
	for rows.Next() {
		j := &JobRun{}
		var startedAt, endedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.Kind, &j.Status, &j.Detail, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		j.StartedAt = startedAt.Time
		j.EndedAt = endedAt.Time
		out = append(out, j)
	}
	return out, rows.Err()
}
