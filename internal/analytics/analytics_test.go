package analytics

import (
	"context"
	"testing"
	"time"

	"pdr-security/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource []storage.AuditLog

func (s staticSource) ListAuditLogs(context.Context, string, time.Time) ([]storage.AuditLog, error) {
	return s, nil
}

func TestReportCounts(t *testing.T) {
	service := New(staticSource{
		{Level: "WARN", Event: "anti_spam"},
		{Level: "WARN", Event: "anti_spam"},
		{Level: "CRIT", Event: "anti_nuke"},
		{Level: "INFO", Event: "backup"},
	})

	report, err := service.Report(context.Background(), "g1", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.ByLevel["WARN"])
	assert.Equal(t, []string{"anti_spam", "anti_nuke"}, report.TopEvents(2))
	assert.Len(t, report.Latest, 4)
}
