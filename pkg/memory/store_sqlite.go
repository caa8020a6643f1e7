package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent conversation storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the conversation database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. Use one shared connection to avoid writer
	// lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			profile_json TEXT NOT NULL DEFAULT '{}',
			summary TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at_ms DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS consolidation_jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			run_after_ms INTEGER NOT NULL,
			lease_until_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS consolidation_jobs_claim_idx ON consolidation_jobs(status, run_after_ms, lease_until_ms, created_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeProfile(p map[string]interface{}) string {
	if len(p) == 0 {
		return "{}"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeProfile(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// GetOrCreateUser returns the user row for id, creating an empty one on
// first contact. Concurrent first requests race on the insert; ON CONFLICT
// DO NOTHING plus the re-read makes the loser land on the winner's row.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, id string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("get or create user: empty id")
	}
	now := nowMS()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, profile_json, summary, created_at_ms, updated_at_ms)
VALUES(?, '{}', '', ?, ?)
ON CONFLICT(id) DO NOTHING`, id, now, now); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, profile_json, summary, created_at_ms, updated_at_ms
FROM users WHERE id = ?`, id)
	var out User
	var profileRaw string
	if err := row.Scan(&out.ID, &profileRaw, &out.Summary, &out.CreatedAtMS, &out.UpdatedAtMS); err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	out.Profile = decodeProfile(profileRaw)
	return out, nil
}

// GetOrCreateConversation returns the user's most recently created
// conversation, creating one only for a brand-new user. There is no
// explicit end-of-conversation; continuity is unbounded in time.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userID string) (Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return Conversation{}, fmt.Errorf("get or create conversation: empty user id")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, created_at_ms
FROM conversations
WHERE user_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT 1`, userID)
	var out Conversation
	err := row.Scan(&out.ID, &out.UserID, &out.CreatedAtMS)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to create
	default:
		return Conversation{}, fmt.Errorf("read conversation: %w", err)
	}

	conv := Conversation{
		ID:          "cnv-" + uuid.NewString(),
		UserID:      userID,
		CreatedAtMS: nowMS(),
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, created_at_ms)
VALUES(?, ?, ?)`, conv.ID, conv.UserID, conv.CreatedAtMS); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage inserts a message with a server-assigned timestamp. The
// AUTOINCREMENT id gives a total order even when two inserts share a
// millisecond.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return Message{}, fmt.Errorf("append message: empty conversation id")
	}
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("append message: invalid role %q", role)
	}

	created := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages(conversation_id, role, content, created_at_ms)
VALUES(?, ?, ?, ?)`, conversationID, role, content, created.UnixMilli())
	if err != nil {
		return Message{}, fmt.Errorf("append message insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("append message id: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      created,
	}, nil
}

// ListRecentMessages returns the tail of the conversation: at most limit
// of the newest messages, presented oldest-first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, created_at_ms
FROM messages
WHERE conversation_id = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var createdMS int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetUserMemory returns the user's memory record, or an empty record when
// the user is unknown. A missing row is not an error here; turn handling
// ensures the user exists before memory is read.
func (s *SQLiteStore) GetUserMemory(ctx context.Context, userID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT profile_json, summary FROM users WHERE id = ?`, userID)
	var profileRaw, summary string
	if err := row.Scan(&profileRaw, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmptyRecord(), nil
		}
		return Record{}, fmt.Errorf("get user memory: %w", err)
	}
	return Record{Profile: decodeProfile(profileRaw), Summary: summary}, nil
}

// SetUserMemory overwrites the user's memory record in full. Merge
// decisions belong to the consolidator, not the store.
func (s *SQLiteStore) SetUserMemory(ctx context.Context, userID string, rec Record) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users
SET profile_json = ?, summary = ?, updated_at_ms = ?
WHERE id = ?`, encodeProfile(rec.Profile), rec.Summary, nowMS(), userID)
	if err != nil {
		return fmt.Errorf("set user memory: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("set user memory: unknown user %q", userID)
	}
	return nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job Job) error {
	now := nowMS()
	if job.ID == "" {
		job.ID = "job-" + uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.RunAfterMS == 0 {
		job.RunAfterMS = now
	}
	if job.CreatedAtMS == 0 {
		job.CreatedAtMS = now
	}
	if job.UpdatedAtMS == 0 {
		job.UpdatedAtMS = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO consolidation_jobs(id, job_type, user_id, status, payload_json, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms, completed_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	payload_json = excluded.payload_json,
	error = excluded.error,
	run_after_ms = excluded.run_after_ms,
	lease_until_ms = excluded.lease_until_ms,
	updated_at_ms = excluded.updated_at_ms,
	completed_at_ms = excluded.completed_at_ms`,
		job.ID,
		job.JobType,
		job.UserID,
		job.Status,
		encodeMap(job.Payload),
		job.Error,
		job.RunAfterMS,
		job.LeaseUntilMS,
		job.CreatedAtMS,
		job.UpdatedAtMS,
		job.CompletedAtMS,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context, nowMS, leaseForMS int64) (Job, bool, error) {
	if leaseForMS <= 0 {
		leaseForMS = 60_000
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("claim next job begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, job_type, user_id, status, payload_json, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms, completed_at_ms
FROM consolidation_jobs
WHERE run_after_ms <= ?
AND (status = ? OR (status = ? AND lease_until_ms <= ?))
ORDER BY created_at_ms ASC
LIMIT 1`, nowMS, JobPending, JobRunning, nowMS)

	var job Job
	var payloadRaw string
	if err := row.Scan(&job.ID, &job.JobType, &job.UserID, &job.Status, &payloadRaw, &job.Error, &job.RunAfterMS, &job.LeaseUntilMS, &job.CreatedAtMS, &job.UpdatedAtMS, &job.CompletedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("claim next job select: %w", err)
	}

	leaseUntil := nowMS + leaseForMS
	res, err := tx.ExecContext(ctx, `
UPDATE consolidation_jobs
SET status = ?, lease_until_ms = ?, updated_at_ms = ?, error = ''
WHERE id = ? AND (status = ? OR (status = ? AND lease_until_ms <= ?))`, JobRunning, leaseUntil, nowMS, job.ID, JobPending, JobRunning, nowMS)
	if err != nil {
		return Job{}, false, fmt.Errorf("claim next job update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return Job{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("claim next job commit: %w", err)
	}

	job.Status = JobRunning
	job.LeaseUntilMS = leaseUntil
	job.UpdatedAtMS = nowMS
	job.Payload = decodeMap(payloadRaw)
	return job, true, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE consolidation_jobs
SET status = ?, completed_at_ms = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, JobCompleted, now, now, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE consolidation_jobs
SET status = ?, error = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, JobFailed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueExpiredJobs(ctx context.Context, nowMS int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE consolidation_jobs
SET status = ?, updated_at_ms = ?, error = ''
WHERE status = ? AND lease_until_ms > 0 AND lease_until_ms <= ?`, JobPending, nowMS, JobRunning, nowMS)
	if err != nil {
		return fmt.Errorf("requeue expired jobs: %w", err)
	}
	return nil
}

// PurgeFinishedJobs deletes completed and failed jobs older than beforeMS.
// Pending and running jobs are never touched.
func (s *SQLiteStore) PurgeFinishedJobs(ctx context.Context, beforeMS int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM consolidation_jobs
WHERE status IN (?, ?) AND updated_at_ms < ?`, JobCompleted, JobFailed, beforeMS)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
