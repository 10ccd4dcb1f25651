package analytics

import (
	"context"
	"sort"
	"time"

	"pdr-security/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	source Source
}

func New(source Source) *Service {
	return &Service{source: source}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
	Latest  []storage.AuditLog
}

// TopEvents returns event names ordered by count, ties by name.
func (r Report) TopEvents(limit int) []string {
	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.source.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	if len(logs) > 5 {
		logs = logs[:5]
	}
	report.Latest = logs
	return report, nil
}
