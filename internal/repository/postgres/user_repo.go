package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// GetUserByUsername — (nil, nil), если оператор не найден.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, organization_id, email, username, password_hash, scopes, created_at, updated_at
	FROM users WHERE username = $1`

	var (
		u          domain.User
		scopesJSON []byte
	)
	err := s.q(ctx).QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.OrganizationID, &u.Email, &u.Username, &u.PasswordHash,
		&scopesJSON, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	if len(scopesJSON) > 0 {
		_ = json.Unmarshal(scopesJSON, &u.Scopes)
	}
	return &u, nil
}
