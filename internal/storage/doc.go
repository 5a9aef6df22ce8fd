// Package storage persists schedules, execution records and the audit trail.
//
// Drivers: "memory", "file" (JSON Lines journals), "sqlite" (modernc, pure Go)
// and "postgres" (lib/pq). An empty driver or "none" disables persistence.
package storage
