package store

import "database/sql"

// ScanDaily reads (date, max_instances) rows.
func ScanDaily(rows *sql.Rows) ([]DailyMax, error) {
	out := make([]DailyMax, 0)
	for rows.Next() {
		var r DailyMax
		if err := rows.Scan(&r.Date, &r.MaxInstances); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
