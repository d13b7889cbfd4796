package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqops/seqaudit/pkg/archive"
	"github.com/seqops/seqaudit/pkg/audit"
	"github.com/seqops/seqaudit/pkg/config"
)

func setupTestStore(t *testing.T) archive.Store {
	t.Helper()

	cfg := &config.ArchiveConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := archive.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func sampleReport() *audit.Report {
	overall := 48 * time.Hour

	records := []audit.TatRecord{
		{
			Run: audit.Run{
				Name:        "230601_A01295",
				AssayType:   "CEN",
				WorkspaceID: "project-1",
			},
			Ticket: &audit.Ticket{Key: "EBH-1"},
			Times: audit.RunTimestamps{
				Upload: audit.Timestamp{
					Time: time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC),
				},
			},
			OverallTAT:     &overall,
			Classification: audit.ClassCompliant,
		},
		{
			Run: audit.Run{
				Name:      "230610_A01295",
				AssayType: "CEN",
			},
			Classification: audit.ClassNeedsReview,
			ReviewReasons:  []string{audit.ReasonNoTicket},
		},
	}

	return &audit.Report{
		Start:       time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
		GeneratedAt: time.Date(2023, 7, 1, 9, 0, 0, 0, time.UTC),
		Assays:      audit.Aggregate(records, []string{"CEN"}),
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, sampleReport())
	require.NoError(t, err)
	require.NotZero(t, id)

	loaded, err := s.GetAudit(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.TotalRuns)
	require.Len(t, loaded.Summaries, 1)
	assert.Equal(t, "CEN", loaded.Summaries[0].AssayType)
	assert.Equal(t, 1, loaded.Summaries[0].CompliantRuns)
	assert.InDelta(t, 100.0, loaded.Summaries[0].CompliancePercent, 1e-9)

	records, err := s.ListRecords(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "230601_A01295", records[0].RunName)
	assert.Equal(t, "EBH-1", records[0].TicketKey)
	require.NotNil(t, records[0].OverallDays)
	assert.InDelta(t, 2.0, *records[0].OverallDays, 1e-9)

	assert.Equal(t, "needs-review", records[1].Classification)
	assert.Nil(t, records[1].OverallDays)
	assert.Equal(t, audit.ReasonNoTicket, records[1].ReviewReasons)
}

func TestStore_ListAudits(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := sampleReport()
	older.GeneratedAt = time.Date(2023, 7, 1, 9, 0, 0, 0, time.UTC)

	newer := sampleReport()
	newer.GeneratedAt = time.Date(2023, 8, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.SaveReport(ctx, older)
	require.NoError(t, err)

	newerID, err := s.SaveReport(ctx, newer)
	require.NoError(t, err)

	audits, err := s.ListAudits(ctx)
	require.NoError(t, err)

	require.Len(t, audits, 2)
	assert.Equal(t, newerID, audits[0].ID)
	require.Len(t, audits[0].Summaries, 1)
}

func TestStore_DeleteAudit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, sampleReport())
	require.NoError(t, err)

	require.NoError(t, s.DeleteAudit(ctx, id))

	_, err = s.GetAudit(ctx, id)
	assert.Error(t, err)

	records, err := s.ListRecords(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, records)
}
