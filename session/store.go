package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists session entry trees in SQLite. One row per entry, keyed by
// (session file, entry id); a sessions table tracks each session file's
// parent-session link and current leaf, mirroring the teacher's
// agent/session.go SessionFile but generalized from one flat message slice
// to an ordered entry sequence with tree metadata.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite-backed entry store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			file TEXT PRIMARY KEY,
			parent_file TEXT,
			leaf_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			session_file TEXT NOT NULL,
			id TEXT NOT NULL,
			parent_id TEXT,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			role TEXT,
			text TEXT,
			content_json TEXT,
			stop_reason TEXT,
			error_message TEXT,
			tool_result_json TEXT,
			summary TEXT,
			details_json TEXT,
			custom_type TEXT,
			data_json TEXT,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (session_file, id)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_branch ON entries (session_file, seq);
	`)
	if err != nil {
		return fmt.Errorf("create session schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession starts a new, empty session file optionally linked to a
// parent session (parentFile == "" for a root session).
func (s *Store) CreateSession(parentFile string) (string, error) {
	file := uuid.NewString()
	now := time.Now().Unix()
	var parent any
	if parentFile != "" {
		parent = parentFile
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (file, parent_file, leaf_id, created_at, updated_at) VALUES (?, ?, NULL, ?, ?)`,
		file, parent, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return file, nil
}

// AppendEntry appends an entry to sessionFile's branch. If e.ID is empty a
// fresh UUID is assigned. e.ParentID defaults to the session's current leaf
// when unset, so ordinary appends chain automatically.
func (s *Store) AppendEntry(sessionFile string, e Entry) (Entry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("append entry: %w", err)
	}
	defer tx.Rollback()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var leaf sql.NullString
	if err := tx.QueryRow(`SELECT leaf_id FROM sessions WHERE file = ?`, sessionFile).Scan(&leaf); err != nil {
		return Entry{}, fmt.Errorf("append entry: lookup session %s: %w", sessionFile, err)
	}
	if e.ParentID == "" && leaf.Valid {
		e.ParentID = leaf.String
	}

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), -1) + 1 FROM entries WHERE session_file = ?`, sessionFile).Scan(&seq); err != nil {
		return Entry{}, fmt.Errorf("append entry: next seq: %w", err)
	}

	contentJSON, _ := json.Marshal(e.Content)
	toolResultJSON, _ := json.Marshal(e.ToolResult)
	detailsJSON, _ := json.Marshal(e.Details)

	_, err = tx.Exec(`INSERT INTO entries
		(session_file, id, parent_id, seq, kind, role, text, content_json, stop_reason, error_message, tool_result_json, summary, details_json, custom_type, data_json, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sessionFile, e.ID, nullableString(e.ParentID), seq, string(e.Kind), string(e.Role), e.Text,
		string(contentJSON), e.StopReason, e.ErrorMessage, string(toolResultJSON),
		e.Summary, string(detailsJSON), e.CustomType, string(e.Data), e.Timestamp.Unix(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append entry: insert: %w", err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET leaf_id = ?, updated_at = ? WHERE file = ?`, e.ID, time.Now().Unix(), sessionFile); err != nil {
		return Entry{}, fmt.Errorf("append entry: update leaf: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("append entry: commit: %w", err)
	}
	return e, nil
}

// AppendCustomEntry appends a KindCustom entry, marshaling data to JSON.
// This is the sessionManager.appendCustomEntry capability from spec.md §6.
func (s *Store) AppendCustomEntry(sessionFile, customType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal custom entry data: %w", err)
	}
	_, err = s.AppendEntry(sessionFile, Entry{
		Kind:       KindCustom,
		CustomType: customType,
		Data:       raw,
	})
	return err
}

// GetBranch returns the root-to-leaf ordered entries of sessionFile.
// This store does not implement interactive branch switching (the teacher's
// own session model is a single linear history), so "the current branch" is
// simply the session file's full entry sequence in append order.
func (s *Store) GetBranch(sessionFile string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, parent_id, kind, role, text, content_json, stop_reason, error_message,
		       tool_result_json, summary, details_json, custom_type, data_json, timestamp
		FROM entries WHERE session_file = ? ORDER BY seq ASC`, sessionFile)
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var parentID, contentJSON, toolResultJSON, detailsJSON sql.NullString
		var kind, role string
		var ts int64
		if err := rows.Scan(&e.ID, &parentID, &kind, &role, &e.Text, &contentJSON, &e.StopReason,
			&e.ErrorMessage, &toolResultJSON, &e.Summary, &detailsJSON, &e.CustomType, &e.Data, &ts); err != nil {
			return nil, fmt.Errorf("get branch: scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.Role = Role(role)
		e.ParentID = parentID.String
		e.Timestamp = time.Unix(ts, 0)
		if contentJSON.Valid && contentJSON.String != "" && contentJSON.String != "null" {
			json.Unmarshal([]byte(contentJSON.String), &e.Content)
		}
		if toolResultJSON.Valid && toolResultJSON.String != "" && toolResultJSON.String != "null" {
			var tr ToolResultData
			if json.Unmarshal([]byte(toolResultJSON.String), &tr) == nil {
				e.ToolResult = &tr
			}
		}
		if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "null" {
			var d SummaryDetails
			if json.Unmarshal([]byte(detailsJSON.String), &d) == nil {
				e.Details = &d
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSessionFiles returns every session file in the store, oldest first.
// Used by the offline heuristics tool to walk all stored branches.
func (s *Store) ListSessionFiles() ([]string, error) {
	rows, err := s.db.Query(`SELECT file FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, fmt.Errorf("list session files: scan: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ParentFile returns the parent session file of sessionFile, or "" for a
// root session.
func (s *Store) ParentFile(sessionFile string) (string, error) {
	var parent sql.NullString
	err := s.db.QueryRow(`SELECT parent_file FROM sessions WHERE file = ?`, sessionFile).Scan(&parent)
	if err != nil {
		return "", fmt.Errorf("parent file: %w", err)
	}
	return parent.String, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
