package postgres

import (
	"context"

	"gridplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) AppendLog(ctx context.Context, cellID uuid.UUID, content string) error {
	query := `INSERT INTO cell_logs (cell_id, content) VALUES ($1, $2)`
	_, err := s.db.ExecContext(ctx, query, cellID, content)
	return err
}

func (s *Store) GetLogs(ctx context.Context, cellID uuid.UUID, afterID int64, limit int) ([]*store.CellLog, error) {
	query := `
		SELECT id, cell_id, content, created_at
		FROM cell_logs
		WHERE cell_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, cellID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*store.CellLog
	for rows.Next() {
		var entry store.CellLog
		if err := rows.Scan(&entry.ID, &entry.CellID, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &entry)
	}

	return logs, rows.Err()
}
