// Package models defines the persistent data structures of the rebalancer.
package models

import "time"

// ScheduledJob is one recurring rebalance task. At most one job exists per
// wallet address; the uniqueness is enforced by the job store at creation.
type ScheduledJob struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	Name          string     `json:"name"`
	IntervalHuman string     `json:"interval"`
	Enabled       bool       `json:"enabled"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastFailedAt  *time.Time `json:"lastFailedAt,omitempty"`
	FailReason    *string    `json:"failReason,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}
