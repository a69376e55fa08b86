package models

import "time"

// Status summarises sync state and data availability
type Status struct {
	LastSyncTime  *time.Time               `json:"last_sync_time"`
	CursorVersion uint64                   `json:"cursor_version"`
	Available     map[Category]bool        `json:"data_available"`
	Latest        map[Category]LatestValue `json:"latest"`
}

// LatestValue is the headline value of a category's latest pointer
type LatestValue struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

// Stats represents the work done on a single remote file during a pass
type Stats struct {
	Category  Category
	File      RemoteFile
	Decoded   int
	Written   int
	Truncated int
	Elapsed   time.Duration
}
