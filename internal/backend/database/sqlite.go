package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// identifierPattern guards the configurable table name since it is
// interpolated into SQL text.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLiteStore struct {
	db    *sql.DB
	table string
}

func NewSQLiteStore(connectionString, table string) (*SQLiteStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// In-memory SQLite loses all state when the pool opens a second
	// connection, so pin it to one.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, table: table}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_name TEXT NOT NULL,
		s3_url TEXT NOT NULL,
		product_count TEXT,
		compliance_assessment BOOLEAN NOT NULL DEFAULT FALSE,
		review_comment TEXT,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.table))
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) InsertResult(ctx context.Context, result *Result) (int64, error) {
	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (image_name, s3_url, product_count, compliance_assessment, review_comment, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`, s.table),
		result.ImageName, result.S3URL, result.ProductCount, result.ComplianceAssessment,
		nullableString(result.ReviewComment), ts.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListResults(ctx context.Context) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, image_name, s3_url, product_count, compliance_assessment, review_comment, timestamp
		 FROM %s ORDER BY timestamp DESC`, s.table))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var results []*Result
	for rows.Next() {
		result, err := scanResult(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetResult(ctx context.Context, id int64) (*Result, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, image_name, s3_url, product_count, compliance_assessment, review_comment, timestamp
		 FROM %s WHERE id = ?`, s.table), id)
	result, err := scanResult(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrResultNotFound
	}
	return result, err
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, id int64, comment string, assessment bool) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET review_comment = ?, compliance_assessment = ? WHERE id = ?`, s.table),
		comment, assessment, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrResultNotFound
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*ReviewStats, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN compliance_assessment THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN review_comment IS NOT NULL AND review_comment != '' THEN 1 ELSE 0 END), 0)
		 FROM %s`, s.table))

	var stats ReviewStats
	if err := row.Scan(&stats.Total, &stats.Pass, &stats.Commented); err != nil {
		return nil, err
	}
	stats.Fail = stats.Total - stats.Pass
	return &stats, nil
}

// scanResult maps one row onto a Result, tolerating NULL comment and
// payload columns and string timestamps as SQLite stores them.
func scanResult(scan func(dest ...any) error) (*Result, error) {
	var result Result
	var productCount, reviewComment sql.NullString
	var timestamp string
	if err := scan(&result.ID, &result.ImageName, &result.S3URL, &productCount,
		&result.ComplianceAssessment, &reviewComment, &timestamp); err != nil {
		return nil, err
	}
	result.ProductCount = productCount.String
	result.ReviewComment = reviewComment.String
	result.Timestamp = parseTimestamp(timestamp)
	return &result, nil
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
