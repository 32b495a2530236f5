// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/notification persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width RFC3339 layout. Trailing zeros are kept so
// lexical ordering of the stored text matches chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent writers wait for the lock instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT 'USER',
			created_at TEXT NOT NULL,

			CHECK (role IN ('USER', 'ADMIN'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES users(id),
			assigned_agent_id TEXT REFERENCES users(id),
			status            TEXT NOT NULL DEFAULT 'OPEN',
			created_at        TEXT NOT NULL,
			last_message_at   TEXT NOT NULL,

			CHECK (status IN ('OPEN', 'IN_PROGRESS', 'CLOSED'))
		);

		-- At most one non-terminal conversation per user
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open_user
			ON conversations(user_id) WHERE status != 'CLOSED';

		CREATE INDEX IF NOT EXISTS idx_conversations_last_message
			ON conversations(last_message_at DESC);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent
			ON conversations(assigned_agent_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			attachment_url  TEXT,
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			kind       TEXT NOT NULL,
			body       TEXT NOT NULL,
			is_read    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_user
			ON notifications(user_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// --- Users ---

// CreateUser inserts a new user row
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, avatar_url, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.AvatarURL,
		user.Role,
		user.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Debug("created user", "id", user.ID, "role", user.Role)
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, name, avatar_url, role, created_at FROM users WHERE id = ?`

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.AvatarURL,
		&user.Role,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// --- Conversations ---

// CreateConversation inserts a new conversation. If the owning user already
// has a non-terminal conversation, the partial unique index rejects the insert
// and ErrDuplicateOpenConversation is returned.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, assigned_agent_id, status, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.UserID,
		conv.AssignedAgentID,
		string(conv.Status),
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.LastMessageAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateOpenConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", conv.ID, "user_id", conv.UserID)
	return nil
}

// GetOpenConversationByUser returns the user's current non-terminal
// conversation, or ErrNotFound if they have none.
func (s *SQLiteStore) GetOpenConversationByUser(ctx context.Context, userID string) (*Conversation, error) {
	query := `
		SELECT id, user_id, assigned_agent_id, status, created_at, last_message_at
		FROM conversations
		WHERE user_id = ? AND status != 'CLOSED'
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, userID))
}

func (s *SQLiteStore) getConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, user_id, assigned_agent_id, status, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var status, createdAtStr, lastMessageAtStr string
	var agentID sql.NullString

	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&agentID,
		&status,
		&createdAtStr,
		&lastMessageAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if agentID.Valid {
		conv.AssignedAgentID = &agentID.String
	}
	conv.Status = ConversationStatus(status)

	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastMessageAt, err = time.Parse(time.RFC3339Nano, lastMessageAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation with its ordered messages and the
// identities involved. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	user, err := s.GetUser(ctx, conv.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation owner: %w", err)
	}

	detail := &ConversationDetail{
		Conversation: conv,
		Messages:     messages,
		User:         user,
	}

	if conv.AssignedAgentID != nil {
		agent, err := s.GetUser(ctx, *conv.AssignedAgentID)
		if err != nil {
			return nil, fmt.Errorf("loading assigned agent: %w", err)
		}
		detail.Agent = agent
	}

	return detail, nil
}

// AssignAgent assigns an agent to a conversation and moves it to IN_PROGRESS.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AssignAgent(ctx context.Context, conversationID, agentID string) error {
	query := `
		UPDATE conversations
		SET assigned_agent_id = ?, status = 'IN_PROGRESS'
		WHERE id = ? AND status != 'CLOSED'
	`
	res, err := s.db.ExecContext(ctx, query, agentID, conversationID)
	if err != nil {
		return fmt.Errorf("assigning agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking assignment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("assigned agent", "conversation_id", conversationID, "agent_id", agentID)
	return nil
}

// SetConversationStatus updates a conversation's status.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetConversationStatus(ctx context.Context, conversationID string, status ConversationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ?`,
		string(status), conversationID)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Projections ---

const projectionQuery = `
	SELECT
		c.id, c.user_id, c.assigned_agent_id, c.status, c.last_message_at,
		u.name, u.avatar_url,
		a.name, a.avatar_url,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.is_read = 0),
		m2.id, m2.sender_id, m2.content, m2.attachment_url, m2.is_read, m2.created_at
	FROM conversations c
	JOIN users u ON u.id = c.user_id
	LEFT JOIN users a ON a.id = c.assigned_agent_id
	LEFT JOIN messages m2 ON m2.id = (
		SELECT id FROM messages
		WHERE conversation_id = c.id
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	)
`

// GetProjection rebuilds the denormalized snapshot for a single conversation.
// This is the read-your-writes query the publisher issues after every mutation.
func (s *SQLiteStore) GetProjection(ctx context.Context, conversationID string) (*ConversationProjection, error) {
	row := s.db.QueryRowContext(ctx, projectionQuery+` WHERE c.id = ?`, conversationID)
	proj, err := s.scanProjection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return proj, err
}

// ListProjections returns snapshots for all conversations, newest activity first.
func (s *SQLiteStore) ListProjections(ctx context.Context) ([]*ConversationProjection, error) {
	rows, err := s.db.QueryContext(ctx, projectionQuery+` ORDER BY c.last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying projections: %w", err)
	}
	defer rows.Close()

	var projections []*ConversationProjection
	for rows.Next() {
		proj, err := s.scanProjection(rows)
		if err != nil {
			return nil, err
		}
		projections = append(projections, proj)
	}
	return projections, rows.Err()
}

func (s *SQLiteStore) scanProjection(row rowScanner) (*ConversationProjection, error) {
	var proj ConversationProjection
	var status, lastMessageAtStr string
	var agentID, agentName, agentAvatar sql.NullString
	var msgID, msgSender, msgContent, msgAttachment, msgCreatedAt sql.NullString
	var msgIsRead sql.NullBool

	err := row.Scan(
		&proj.ConversationID,
		&proj.UserID,
		&agentID,
		&status,
		&lastMessageAtStr,
		&proj.User.Name,
		&proj.User.AvatarURL,
		&agentName,
		&agentAvatar,
		&proj.UnreadCount,
		&msgID,
		&msgSender,
		&msgContent,
		&msgAttachment,
		&msgIsRead,
		&msgCreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning projection: %w", err)
	}

	proj.User.ID = proj.UserID
	proj.Status = ConversationStatus(status)
	proj.LastMessageAt, err = time.Parse(time.RFC3339Nano, lastMessageAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}

	if agentID.Valid {
		proj.AssignedAgentID = &agentID.String
		proj.Agent = &UserRef{
			ID:        agentID.String,
			Name:      agentName.String,
			AvatarURL: agentAvatar.String,
		}
	}

	if msgID.Valid {
		msg := &Message{
			ID:             msgID.String,
			ConversationID: proj.ConversationID,
			SenderID:       msgSender.String,
			Content:        msgContent.String,
			IsRead:         msgIsRead.Bool,
		}
		if msgAttachment.Valid {
			msg.AttachmentURL = &msgAttachment.String
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, msgCreatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		proj.LastMessage = msg
	}

	return &proj, nil
}

// --- Messages ---

// AppendMessage inserts a message and bumps the conversation's last_message_at
// in the same transaction. Returns ErrNotFound for an unknown conversation and
// ErrConversationClosed when the conversation is terminal.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if ConversationStatus(status) == StatusClosed {
		return ErrConversationClosed
	}

	createdAt := msg.CreatedAt.UTC().Format(timeFormat)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msg.AttachmentURL,
		msg.IsRead,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		createdAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("bumping last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID)
	return nil
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, attachment_url, is_read, created_at
		FROM messages
		WHERE id = ?
	`
	msg, err := s.scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteStore) scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var attachment sql.NullString
	var createdAtStr string

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&attachment,
		&msg.IsRead,
		&createdAtStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	if attachment.Valid {
		msg.AttachmentURL = &attachment.String
	}
	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, attachment_url, is_read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessage hard-deletes a message row. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted message", "id", id)
	return nil
}

// MarkMessagesRead marks every unread message in the conversation that was
// not sent by the reader. Marking is idempotent.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0
	`, conversationID, readerID)
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

// --- Notifications ---

// CreateNotification inserts a notification row
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		n.UserID,
		n.Kind,
		n.Body,
		n.IsRead,
		n.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns a page of the user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, body, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var createdAtStr string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Body, &n.IsRead, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// CountUnreadNotifications returns the user's unread notification count.
func (s *SQLiteStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks a single notification read.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking mark-read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead drives the user's unread count to zero.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// DeleteNotification removes a notification. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearNotifications removes all notifications for a user.
func (s *SQLiteStore) ClearNotifications(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}
