package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the authoritative metadata:
// libraries, documents, conversations, and chat messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "knowbase.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle so the vector store can share the
// same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Libraries ---

// CreateLibrary inserts a new library row and returns it with the
// assigned ID and timestamps populated.
func (s *Store) CreateLibrary(l Library) (Library, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO libraries (title, description, user_id, collection_id, enable_graph, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		l.Title, l.Description, l.UserID, l.CollectionID, boolToInt(l.EnableGraph),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return Library{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Library{}, err
	}
	l.ID = id
	l.IsActive = true
	l.CreatedAt = now
	l.UpdatedAt = now
	return l, nil
}

// SetLibraryCollectionID records the generated collection identifier after creation.
func (s *Store) SetLibraryCollectionID(id int64, collectionID string) error {
	res, err := s.db.Exec(`UPDATE libraries SET collection_id = ? WHERE id = ?`, collectionID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const librarySelect = `
	SELECT l.id, l.title, l.description, l.user_id, l.collection_id, l.enable_graph, l.is_active,
	       (SELECT COUNT(*) FROM documents d WHERE d.library_id = l.id),
	       l.created_at, l.updated_at
	FROM libraries l`

// GetLibrary returns an active library owned by userID.
func (s *Store) GetLibrary(id int64, userID string) (Library, error) {
	row := s.db.QueryRow(librarySelect+` WHERE l.id = ? AND l.user_id = ? AND l.is_active = 1`, id, userID)
	return scanLibrary(row)
}

// GetLibraryByCollectionID looks up an active library by its collection identifier.
func (s *Store) GetLibraryByCollectionID(collectionID string) (Library, error) {
	row := s.db.QueryRow(librarySelect+` WHERE l.collection_id = ? AND l.is_active = 1`, collectionID)
	return scanLibrary(row)
}

// ListLibraries returns the user's active libraries, most recently updated first.
func (s *Store) ListLibraries(userID string) ([]Library, error) {
	rows, err := s.db.Query(librarySelect+` WHERE l.user_id = ? AND l.is_active = 1 ORDER BY l.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// TitleExists reports whether userID already has an active library with the
// given title, ignoring excludeID (pass 0 for creation checks).
func (s *Store) TitleExists(userID, title string, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM libraries
		WHERE user_id = ? AND title = ? AND is_active = 1 AND id != ?`,
		userID, title, excludeID,
	).Scan(&count)
	return count > 0, err
}

// UpdateLibrary updates the title and/or description of an owned library.
// Nil pointers leave the field unchanged.
func (s *Store) UpdateLibrary(id int64, userID string, title, description *string) (Library, error) {
	current, err := s.GetLibrary(id, userID)
	if err != nil {
		return Library{}, err
	}
	if title != nil {
		current.Title = *title
	}
	if description != nil {
		current.Description = *description
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE libraries SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = 1`,
		current.Title, current.Description, now.Format(time.RFC3339), id, userID,
	)
	if err != nil {
		return Library{}, err
	}
	if err := requireRow(res); err != nil {
		return Library{}, err
	}
	current.UpdatedAt = now
	return current, nil
}

// DeleteLibrary hard-deletes a library row. Documents cascade via foreign key.
func (s *Store) DeleteLibrary(id int64) error {
	res, err := s.db.Exec(`DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibrary(row rowScanner) (Library, error) {
	var l Library
	var enableGraph, isActive int
	var createdAt, updatedAt string
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.UserID, &l.CollectionID,
		&enableGraph, &isActive, &l.DocumentCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Library{}, ErrNotFound
	}
	if err != nil {
		return Library{}, err
	}
	l.EnableGraph = enableGraph != 0
	l.IsActive = isActive != 0
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return Library{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Library{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return l, nil
}

// --- Documents ---

// CreateDocument inserts a document row, unprocessed by default, and returns
// it with the assigned ID.
func (s *Store) CreateDocument(d Document) (Document, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO documents (library_id, name, type, url, file_path, file_size, is_processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.LibraryID, d.Name, d.Type, d.URL, d.FilePath, d.FileSize, boolToInt(d.IsProcessed),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return Document{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Document{}, err
	}
	d.ID = id
	d.CreatedAt = now
	return d, nil
}

// GetDocument returns a document together with its owning library, verifying
// that userID owns the (active) library.
func (s *Store) GetDocument(id int64, userID string) (Document, Library, error) {
	var d Document
	var isProcessed int
	var createdAt string
	var libID int64
	err := s.db.QueryRow(`
		SELECT d.id, d.library_id, d.name, d.type, d.url, d.file_path, d.file_size, d.is_processed, d.created_at, l.id
		FROM documents d
		JOIN libraries l ON l.id = d.library_id
		WHERE d.id = ? AND l.user_id = ? AND l.is_active = 1`, id, userID,
	).Scan(&d.ID, &d.LibraryID, &d.Name, &d.Type, &d.URL, &d.FilePath, &d.FileSize, &isProcessed, &createdAt, &libID)
	if err == sql.ErrNoRows {
		return Document{}, Library{}, ErrNotFound
	}
	if err != nil {
		return Document{}, Library{}, err
	}
	d.IsProcessed = isProcessed != 0
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, Library{}, fmt.Errorf("parsing created_at: %w", err)
	}
	lib, err := s.GetLibrary(libID, userID)
	if err != nil {
		return Document{}, Library{}, err
	}
	return d, lib, nil
}

// ListDocuments returns all documents in a library, newest first.
func (s *Store) ListDocuments(libraryID int64) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, library_id, name, type, url, file_path, file_size, is_processed, created_at
		FROM documents WHERE library_id = ? ORDER BY created_at DESC`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var isProcessed int
		var createdAt string
		if err := rows.Scan(&d.ID, &d.LibraryID, &d.Name, &d.Type, &d.URL, &d.FilePath, &d.FileSize, &isProcessed, &createdAt); err != nil {
			return nil, err
		}
		d.IsProcessed = isProcessed != 0
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// MarkDocumentProcessed flips is_processed to true.
func (s *Store) MarkDocumentProcessed(id int64) error {
	res, err := s.db.Exec(`UPDATE documents SET is_processed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteDocument removes a document row.
func (s *Store) DeleteDocument(id int64) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Conversations ---

// EnsureConversation creates the conversation row if it does not exist yet.
func (s *Store) EnsureConversation(id, userID string) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, userID, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetConversation returns the conversation record. A conversation with no
// cached summary has Summary == "" and a zero SummaryUpdatedAt.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var summary, summaryUpdatedAt sql.NullString
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, summary, summary_updated_at, created_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &summary, &summaryUpdatedAt, &createdAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.Summary = summary.String
	if summaryUpdatedAt.Valid {
		if c.SummaryUpdatedAt, err = parseTime(summaryUpdatedAt.String); err != nil {
			return Conversation{}, fmt.Errorf("parsing summary_updated_at: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// UpdateConversationSummary overwrites the cached summary. Concurrent writers
// race and the last one wins; the summary is a cache, not authoritative state.
func (s *Store) UpdateConversationSummary(id, summary string, updatedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET summary = ?, summary_updated_at = ? WHERE id = ?`,
		summary, updatedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendMessage stores a chat message. The conversation row must exist.
func (s *Store) AppendMessage(m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(conversationID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// parseTime accepts both the RFC3339 strings this package writes and the
// "YYYY-MM-DD HH:MM:SS" form produced by SQLite's CURRENT_TIMESTAMP default.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
