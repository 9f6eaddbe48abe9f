package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresStore struct {
	db    *gorm.DB
	table string
}

func NewPostgresStore(dsn, table string) (*PostgresStore, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// EnsureSchema is only exercised on development databases; in production
// the results table is created once by the upstream analysis pipeline.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		image_name TEXT NOT NULL,
		s3_url TEXT NOT NULL,
		product_count TEXT,
		compliance_assessment BOOLEAN NOT NULL DEFAULT FALSE,
		review_comment TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, s.table)).Error
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) InsertResult(ctx context.Context, result *Result) (int64, error) {
	if err := s.db.WithContext(ctx).Table(s.table).Create(result).Error; err != nil {
		return 0, err
	}
	return result.ID, nil
}

func (s *PostgresStore) ListResults(ctx context.Context) ([]*Result, error) {
	var results []*Result
	err := s.db.WithContext(ctx).Table(s.table).
		Order("timestamp DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, id int64) (*Result, error) {
	var result Result
	err := s.db.WithContext(ctx).Table(s.table).
		Where("id = ?", id).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *PostgresStore) UpdateReview(ctx context.Context, id int64, comment string, assessment bool) error {
	tx := s.db.WithContext(ctx).Table(s.table).
		Where("id = ?", id).
		Updates(map[string]any{
			"review_comment":        comment,
			"compliance_assessment": assessment,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrResultNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*ReviewStats, error) {
	var stats ReviewStats
	row := s.db.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE compliance_assessment),
		        COUNT(*) FILTER (WHERE review_comment IS NOT NULL AND review_comment != '')
		 FROM %s`, s.table)).Row()
	if err := row.Scan(&stats.Total, &stats.Pass, &stats.Commented); err != nil {
		return nil, err
	}
	stats.Fail = stats.Total - stats.Pass
	return &stats, nil
}
