package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Store is the sqlite-backed lesson-content store. Reads run concurrently on
// the connection pool; all writes go through a single goroutine because
// sqlite performs best with one writer.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	log      *zap.Logger
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens (or creates) the store at path and applies the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open lesson store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply lesson store schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		log:      log,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.fn(s.db)
		case <-s.shutdown:
			// Drain queued writes so nothing accepted is lost on shutdown.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- op.fn(s.db)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(fn func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("lesson store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("lesson store write timeout")
	}
}

// LessonFiles returns the starter workspace for a lesson.
func (s *Store) LessonFiles(ctx context.Context, lessonID string) (types.Workspace, error) {
	var filesJSON string
	err := s.db.QueryRowContext(ctx, `SELECT files FROM lessons WHERE id = ?`, lessonID).Scan(&filesJSON)
	if err == sql.ErrNoRows {
		return types.Workspace{}, interfaces.ErrLessonNotFound
	}
	if err != nil {
		return types.Workspace{}, fmt.Errorf("failed to query lesson %s: %w", lessonID, err)
	}

	var ws types.Workspace
	if err := json.Unmarshal([]byte(filesJSON), &ws); err != nil {
		return types.Workspace{}, fmt.Errorf("failed to decode lesson %s files: %w", lessonID, err)
	}
	return ws, nil
}

// UpsertLesson seeds or replaces a lesson's starter files. Used by the
// surrounding platform and by tests; the engine itself only reads lessons.
func (s *Store) UpsertLesson(ctx context.Context, lessonID string, ws types.Workspace) error {
	filesJSON, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to encode lesson files: %w", err)
	}
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO lessons (id, files, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET files = excluded.files, updated_at = CURRENT_TIMESTAMP
		`, lessonID, string(filesJSON))
		return err
	})
}

// ArchiveChatMessage appends one private message to the durable log.
func (s *Store) ArchiveChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	a, b := msg.From, msg.To
	if a > b {
		a, b = b, a
	}
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, pair_a, pair_b, from_user, to_user, text, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, a, b, msg.From, msg.To, msg.Text, msg.Timestamp)
		return err
	})
}

// ChatThread returns the archived messages between two participants in
// chronological order.
func (s *Store) ChatThread(ctx context.Context, a, b string) ([]types.ChatMessage, error) {
	if a > b {
		a, b = b, a
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, text, timestamp
		FROM chat_messages
		WHERE pair_a = ? AND pair_b = ?
		ORDER BY timestamp ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat thread: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}
	return msgs, nil
}

// SaveHomework records a learner's homework workspace, replacing any earlier
// submission for the same (lesson, session, learner).
func (s *Store) SaveHomework(ctx context.Context, lessonID, sessionID, learnerID string, ws types.Workspace) error {
	filesJSON, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to encode homework files: %w", err)
	}
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO homework_submissions (lesson_id, session_id, learner_id, files, submitted_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(lesson_id, session_id, learner_id)
			DO UPDATE SET files = excluded.files, submitted_at = excluded.submitted_at
		`, lessonID, sessionID, learnerID, string(filesJSON), time.Now())
		return err
	})
}

// Homework returns a learner's archived homework workspace, if any.
func (s *Store) Homework(ctx context.Context, lessonID, sessionID, learnerID string) (types.Workspace, error) {
	var filesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT files FROM homework_submissions
		WHERE lesson_id = ? AND session_id = ? AND learner_id = ?
	`, lessonID, sessionID, learnerID).Scan(&filesJSON)
	if err == sql.ErrNoRows {
		return types.Workspace{}, sql.ErrNoRows
	}
	if err != nil {
		return types.Workspace{}, fmt.Errorf("failed to query homework: %w", err)
	}
	var ws types.Workspace
	if err := json.Unmarshal([]byte(filesJSON), &ws); err != nil {
		return types.Workspace{}, fmt.Errorf("failed to decode homework files: %w", err)
	}
	return ws, nil
}

// HealthCheck verifies connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("lesson store ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM lessons LIMIT 1"); err != nil {
		return fmt.Errorf("lesson store read test failed: %w", err)
	}
	return nil
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close lesson store: %w", err)
	}
	return nil
}
