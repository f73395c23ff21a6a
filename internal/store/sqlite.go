// Package store persists conversations, captured agent context, generated
// media and escalations in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"agentdesk/internal/domain"
	"agentdesk/internal/history"
)

const (
	statusActive   = "active"
	statusArchived = "archived"

	titleMaxRunes = 60
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

const conversationColumns = `id, agent, tenant_id, user_id, title, status, messages, usage_count, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var c domain.Conversation
	var messages string
	if err := row.Scan(&c.ID, &c.Agent, &c.TenantID, &c.UserID, &c.Title, &c.Status,
		&messages, &c.UsageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Messages = []byte(messages)
	return &c, nil
}

// ActiveConversation returns the most recently updated active conversation
// for the tenant user and agent, creating one when none exists.
func (s *SQLiteStore) ActiveConversation(ctx context.Context, agent, tenantID, userID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE agent = ? AND tenant_id = ? AND user_id = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		agent, tenantID, userID, statusActive,
	)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query active conversation: %w", err)
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:        uuid.NewString(),
		Agent:     agent,
		TenantID:  tenantID,
		UserID:    userID,
		Status:    statusActive,
		Messages:  []byte("[]"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent, tenant_id, user_id, title, status, messages, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, '[]', 0, ?, ?)`,
		conv.ID, agent, tenantID, userID, statusActive, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("conversation created", "id", conv.ID, "agent", agent, "tenant", tenantID)
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessages adds msgs to the stored message array and counts one usage.
// A stored array that no longer decodes is replaced rather than failing the turn.
func (s *SQLiteStore) AppendMessages(ctx context.Context, convID string, msgs ...domain.ConversationMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var stored, title string
	err = tx.QueryRowContext(ctx, `SELECT messages, title FROM conversations WHERE id = ?`, convID).Scan(&stored, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation %s: %w", convID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	raw, ok := history.DecodeRaw([]byte(stored))
	if !ok {
		s.logger.Warn("stored conversation is not a JSON array, resetting", "id", convID)
		raw = nil
	}

	now := s.now()
	for _, m := range msgs {
		raw = append(raw, map[string]any{
			"role":       string(m.Role),
			"content":    m.Content,
			"created_at": now.UTC().Format(time.RFC3339),
		})
		if title == "" && m.Role == domain.RoleUser {
			title = makeTitle(m.Content)
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET messages = ?, title = ?, usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		string(data), title, now, convID,
	); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		statusArchived, s.now(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetContext(ctx context.Context, tenantID, agent string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM agent_context WHERE tenant_id = ? AND agent = ?`,
		tenantID, agent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		fields[k] = v
	}
	return fields, rows.Err()
}

// MergeContext upserts fields and returns the tenant's full context afterwards.
func (s *SQLiteStore) MergeContext(ctx context.Context, tenantID, agent string, fields map[string]string) (map[string]string, error) {
	if len(fields) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin merge: %w", err)
		}
		defer tx.Rollback()

		now := s.now()
		for k, v := range fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agent_context (tenant_id, agent, field, value, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(tenant_id, agent, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				tenantID, agent, k, v, now,
			); err != nil {
				return nil, fmt.Errorf("upsert context %s: %w", k, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit merge: %w", err)
		}
	}
	return s.GetContext(ctx, tenantID, agent)
}

func (s *SQLiteStore) ResetContext(ctx context.Context, tenantID, agent string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_context WHERE tenant_id = ? AND agent = ?`, tenantID, agent,
	)
	return err
}

func (s *SQLiteStore) CreateMedia(ctx context.Context, m domain.Media) error {
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Status == "" {
		m.Status = domain.MediaPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (id, kind, agent, tenant_id, user_id, prompt, aspect, duration_sec, style, status, url, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.Agent, m.TenantID, m.UserID, m.Prompt, m.Aspect, m.DurationSec, m.Style,
		string(m.Status), m.URL, m.Error, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetMedia(ctx context.Context, id string) (*domain.Media, error) {
	var m domain.Media
	var kind, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, agent, tenant_id, user_id, prompt, aspect, duration_sec, style, status, url, error, created_at, updated_at
		 FROM media WHERE id = ?`, id,
	).Scan(&m.ID, &kind, &m.Agent, &m.TenantID, &m.UserID, &m.Prompt, &m.Aspect, &m.DurationSec, &m.Style,
		&status, &m.URL, &m.Error, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Kind = domain.MediaKind(kind)
	m.Status = domain.MediaStatus(status)
	return &m, nil
}

// UpdateMedia writes the mutable fields (status, url, error) of m.
func (s *SQLiteStore) UpdateMedia(ctx context.Context, m domain.Media) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET status = ?, url = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(m.Status), m.URL, m.Error, s.now(), m.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("media %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) LogEscalation(ctx context.Context, e domain.EscalationRecord) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escalations (agent, tenant_id, user_id, reason, delivered, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Agent, e.TenantID, e.UserID, e.Reason, e.Delivered, e.Error, e.CreatedAt,
	)
	return err
}

// ListEscalations returns the most recent escalations, newest first.
func (s *SQLiteStore) ListEscalations(ctx context.Context, limit int) ([]domain.EscalationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent, tenant_id, user_id, reason, delivered, error, created_at
		 FROM escalations ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscalationRecord
	for rows.Next() {
		var e domain.EscalationRecord
		if err := rows.Scan(&e.ID, &e.Agent, &e.TenantID, &e.UserID, &e.Reason, &e.Delivered, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SchemaVersion reports the migrated schema version of the open database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return SchemaVersion(ctx, s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func makeTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}
