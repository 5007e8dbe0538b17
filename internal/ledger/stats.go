package ledger

import "time"

// TenantStats summarises a tenant's ledger on demand. It holds no
// persisted state of its own; every call derives counts from a fresh
// Range read.
type TenantStats struct {
	TenantID     string `json:"tenantId"`
	TotalRecords int    `json:"totalRecords"`

	ByEntity map[string]int `json:"byEntity"`
	ByAction map[string]int `json:"byAction"`
	ByUser   map[string]int `json:"byUser"`

	RecordsToday     int `json:"recordsToday"`
	RecordsThisWeek  int `json:"recordsThisWeek"`
	RecordsThisMonth int `json:"recordsThisMonth"`

	ChainIntegrity *ChainIntegrityReport `json:"chainIntegrity"`
}

// AggregateStats computes summary counts over a record slice. Time
// buckets are calendar-based relative to now in UTC: today is the
// current day, this-week the last 7 days, this-month the current
// calendar month.
func AggregateStats(records []*Record, now time.Time) *TenantStats {
	stats := &TenantStats{
		TotalRecords: len(records),
		ByEntity:     make(map[string]int),
		ByAction:     make(map[string]int),
		ByUser:       make(map[string]int),
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := now.AddDate(0, 0, -7)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, r := range records {
		stats.ByEntity[r.Entity]++
		stats.ByAction[r.Action]++
		stats.ByUser[r.UserID]++

		ts := r.Timestamp
		if !ts.Before(dayStart) {
			stats.RecordsToday++
		}
		if !ts.Before(weekStart) {
			stats.RecordsThisWeek++
		}
		if !ts.Before(monthStart) {
			stats.RecordsThisMonth++
		}
	}
	return stats
}
