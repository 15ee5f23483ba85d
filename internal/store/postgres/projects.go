package postgres

import (
	"context"

	"gridplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateProject(ctx context.Context, project *store.Project, hashedKey string) error {
	query := `
		INSERT INTO projects (id, name, api_key_hash, rate_limit, rate_limit_burst, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		project.ID,
		project.Name,
		hashedKey,
		project.RateLimit,
		project.RateLimitBurst,
		project.CreatedAt,
	)
	return err
}

func (s *Store) GetProjectByID(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	query := "SELECT id, name, rate_limit, rate_limit_burst, created_at FROM projects WHERE id = $1"

	var p store.Project
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.RateLimit,
		&p.RateLimitBurst,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *Store) GetProjectByAPIKeyHash(ctx context.Context, hash string) (*store.Project, error) {
	query := "SELECT id, name, rate_limit, rate_limit_burst, created_at FROM projects WHERE api_key_hash = $1"

	var p store.Project
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&p.ID,
		&p.Name,
		&p.RateLimit,
		&p.RateLimitBurst,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &p, nil
}
