package repository

import (
	"context"
	"fmt"

	"crd-explorer/internal/modules/explorer/types"
)

// previewQueries lists the tables that may be dumped. Names never reach SQL
// unless they are keys here.
var previewQueries = map[string]string{
	"stations":         `SELECT id, name, latitude, longitude FROM stations ORDER BY id LIMIT ?`,
	"variables":        `SELECT variable_id, name, unit FROM variables ORDER BY variable_id LIMIT ?`,
	"station_readings": `SELECT station_id, variable_id FROM station_readings ORDER BY station_id, variable_id LIMIT ?`,
	"readings":         `SELECT station_id, variable_id, record_ts, value FROM readings ORDER BY station_id, variable_id, record_ts LIMIT ?`,
}

// PreviewTables returns the table names accepted by PreviewTable.
func PreviewTables() []string {
	return []string{"stations", "variables", "readings", "station_readings"}
}

func (r *Repository) PreviewTable(ctx context.Context, table string, limit int) (types.TablePreview, error) {
	query, ok := previewQueries[table]
	if !ok {
		return types.TablePreview{}, fmt.Errorf("table %q: %w", table, types.ErrInvalidInput)
	}
	if limit <= 0 {
		return types.TablePreview{}, fmt.Errorf("limit %d must be > 0: %w", limit, types.ErrInvalidInput)
	}

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return types.TablePreview{}, err
	}
	defer r.closeRows(rows, table)

	cols, err := rows.Columns()
	if err != nil {
		return types.TablePreview{}, err
	}
	out := types.TablePreview{Table: table, Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return types.TablePreview{}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}
