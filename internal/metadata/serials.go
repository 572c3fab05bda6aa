package metadata

import (
	"context"
	"database/sql"
	"fmt"
)

type serialStore struct {
	tx *sql.Tx
}

func (s *serialStore) Insert(ctx context.Context, serials []int64) error {
	for _, serial := range serials {
		if _, err := s.tx.ExecContext(ctx, `INSERT OR IGNORE INTO serials(serial) VALUES(?)`, serial); err != nil {
			return fmt.Errorf("record commission serial %d: %w", serial, err)
		}
	}
	return nil
}

func (s *serialStore) Delete(ctx context.Context, serials []int64) error {
	if len(serials) == 0 {
		return nil
	}
	_, err := s.tx.ExecContext(ctx, `DELETE FROM serials WHERE serial IN (`+placeholders(len(serials))+`)`, int64Args(serials)...)
	if err != nil {
		return fmt.Errorf("delete commission serials: %w", err)
	}
	return nil
}

func (s *serialStore) List(ctx context.Context) ([]int64, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT serial FROM serials ORDER BY serial`)
	if err != nil {
		return nil, fmt.Errorf("list commission serials: %w", err)
	}
	defer rows.Close()

	serials := make([]int64, 0)
	for rows.Next() {
		var serial int64
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		serials = append(serials, serial)
	}
	return serials, rows.Err()
}
