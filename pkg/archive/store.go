// Package archive persists audit results so past audits can be compared
// and served over the API.
package archive

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seqops/seqaudit/pkg/audit"
	"github.com/seqops/seqaudit/pkg/config"
)

// Store provides persistence for archived audits.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	SaveReport(ctx context.Context, report *audit.Report) (uint, error)

	ListAudits(ctx context.Context) ([]Audit, error)
	GetAudit(ctx context.Context, id uint) (*Audit, error)
	ListRecords(ctx context.Context, auditID uint) ([]Record, error)
	DeleteAudit(ctx context.Context, id uint) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.ArchiveConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.ArchiveConfig,
) Store {
	return &store{
		log: log.WithField("component", "archive"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening archive database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Audit{},
		&AssaySummary{},
		&Record{},
	); err != nil {
		return fmt.Errorf("running archive migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Archive database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SaveReport archives a report with all its per-run records in one
// transaction and returns the new audit ID.
func (s *store) SaveReport(
	ctx context.Context, report *audit.Report,
) (uint, error) {
	row := newAuditRow(report)

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, fmt.Errorf("archiving audit: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"audit_id": row.ID,
		"runs":     row.TotalRuns,
	}).Info("Audit archived")

	return row.ID, nil
}

// ListAudits returns all archived audits, most recent first, without
// their records.
func (s *store) ListAudits(ctx context.Context) ([]Audit, error) {
	var audits []Audit
	if err := s.db.WithContext(ctx).
		Preload("Summaries").
		Order("generated_at DESC").
		Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("listing audits: %w", err)
	}

	return audits, nil
}

// GetAudit returns one archived audit with its summaries.
func (s *store) GetAudit(ctx context.Context, id uint) (*Audit, error) {
	var row Audit
	if err := s.db.WithContext(ctx).
		Preload("Summaries").
		First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("loading audit %d: %w", id, err)
	}

	return &row, nil
}

// ListRecords returns the per-run records of one archived audit.
func (s *store) ListRecords(
	ctx context.Context, auditID uint,
) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("audit_id = ?", auditID).
		Order("assay_type, run_name").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf(
			"listing records for audit %d: %w", auditID, err,
		)
	}

	return records, nil
}

// DeleteAudit removes an archived audit and its dependent rows.
func (s *store) DeleteAudit(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("audit_id = ?", id).
			Delete(&Record{}).Error; err != nil {
			return fmt.Errorf("deleting records: %w", err)
		}

		if err := tx.Where("audit_id = ?", id).
			Delete(&AssaySummary{}).Error; err != nil {
			return fmt.Errorf("deleting summaries: %w", err)
		}

		if err := tx.Delete(&Audit{}, id).Error; err != nil {
			return fmt.Errorf("deleting audit: %w", err)
		}

		return nil
	})
}
