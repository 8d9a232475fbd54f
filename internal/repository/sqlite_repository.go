package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"arena-ai/backend/internal/model"
)

// sqliteRepository stores each session as one JSON document; archived turns and
// their responses live in their own tables.
type sqliteRepository struct {
	db *sql.DB
	// writeMu serializes read-modify-write cycles; SQLite has a single writer anyway.
	writeMu sync.Mutex
}

// NewSQLiteRepository creates a repository over an already migrated database.
func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

// --- Sessions ---

func (r *sqliteRepository) CreateSession(ctx context.Context, s *model.SessionState) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}
	query := "INSERT INTO sessions (id, user_id, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	_, err = r.db.ExecContext(ctx, query, s.ID, s.UserID, string(doc), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *sqliteRepository) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	return loadSession(ctx, r.db, sessionID)
}

// UpdateSession reads, mutates and writes the session inside one transaction.
func (r *sqliteRepository) UpdateSession(ctx context.Context, sessionID string, mutate MutateFunc) (*model.SessionState, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	// Ensure transaction is rolled back on error
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Failed to roll back session update", "session_id", sessionID, "error", rbErr)
		}
	}()

	// Read inside the transaction so the mutation sees the latest committed document.
	s, err := loadSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	// A mutate error aborts the update; the deferred rollback discards it.
	if err := mutate(s); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("could not marshal session: %w", err)
	}
	query := "UPDATE sessions SET user_id = ?, document = ?, updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, s.UserID, string(doc), s.UpdatedAt, sessionID); err != nil {
		return nil, fmt.Errorf("could not update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit session update: %w", err)
	}
	return s, nil
}

// --- Conversations ---

func (r *sqliteRepository) CreateConversation(ctx context.Context, turn *model.ConversationTurn) error {
	// The selected response is denormalized into the turn row; all responses go to CreateResponse.
	var selected sql.NullString
	if turn.SelectedResponse != nil {
		raw, err := json.Marshal(turn.SelectedResponse)
		if err != nil {
			return fmt.Errorf("could not marshal selected response: %w", err)
		}
		selected = sql.NullString{String: string(raw), Valid: true}
	}
	query := "INSERT INTO conversations (id, session_id, user_prompt, selected_response, timestamp) VALUES (?, ?, ?, ?, ?)"
	_, err := r.db.ExecContext(ctx, query, turn.ID, turn.SessionID, turn.UserPrompt, selected, turn.Timestamp)
	return err
}

func (r *sqliteRepository) ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	query := `
		SELECT id, session_id, user_prompt, selected_response, timestamp
		FROM conversations
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := []model.ConversationTurn{}
	for rows.Next() {
		var turn model.ConversationTurn
		var selected sql.NullString
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.UserPrompt, &selected, &turn.Timestamp); err != nil {
			return nil, err
		}
		if selected.Valid {
			var resp model.ProviderResponse
			if err := json.Unmarshal([]byte(selected.String), &resp); err != nil {
				return nil, fmt.Errorf("could not decode selected response of turn %s: %w", turn.ID, err)
			}
			turn.SelectedResponse = &resp
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// --- Responses ---

func (r *sqliteRepository) CreateResponse(ctx context.Context, conversationID string, resp *model.ProviderResponse) error {
	doc, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("could not marshal response: %w", err)
	}
	query := "INSERT INTO responses (id, conversation_id, provider, status, document, timestamp) VALUES (?, ?, ?, ?, ?, ?)"
	_, err = r.db.ExecContext(ctx, query, resp.ID, conversationID, string(resp.Provider), string(resp.Status), string(doc), resp.Timestamp)
	return err
}

func (r *sqliteRepository) ListResponses(ctx context.Context, conversationID string) ([]model.ProviderResponse, error) {
	query := "SELECT document FROM responses WHERE conversation_id = ? ORDER BY timestamp ASC, provider ASC"
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := []model.ProviderResponse{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var resp model.ProviderResponse
		if err := json.Unmarshal([]byte(doc), &resp); err != nil {
			return nil, fmt.Errorf("could not decode response: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSession(ctx context.Context, q queryRower, sessionID string) (*model.SessionState, error) {
	var doc string
	err := q.QueryRowContext(ctx, "SELECT document FROM sessions WHERE id = ?", sessionID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s model.SessionState
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return nil, fmt.Errorf("could not decode session %s: %w", sessionID, err)
	}
	return &s, nil
}
