// Package tokens stores OAuth tokens for remote calendar accounts.
package tokens

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/bobuk/calblock/internal/storage"
)

// SQLiteStore keeps one OAuth token per account name.
type SQLiteStore struct {
	q storage.Querier
}

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(q storage.Querier) *SQLiteStore {
	return &SQLiteStore{q: q}
}

// Save inserts or replaces the token for an account.
func (s *SQLiteStore) Save(ctx context.Context, account string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO tokens (account_name, token) VALUES (?, ?)`, account, string(raw))
	if err != nil {
		return fmt.Errorf("save token for %s: %w", account, err)
	}
	return nil
}

// Get returns the stored token or nil when the account has none.
func (s *SQLiteStore) Get(ctx context.Context, account string) (*oauth2.Token, error) {
	var raw string
	err := s.q.QueryRowContext(ctx, `SELECT token FROM tokens WHERE account_name = ?`, account).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token for %s: %w", account, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("decode token for %s: %w", account, err)
	}
	return &token, nil
}

// Delete forgets the token for an account.
func (s *SQLiteStore) Delete(ctx context.Context, account string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM tokens WHERE account_name = ?`, account)
	return err
}
