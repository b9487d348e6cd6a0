package models

import (
	"time"
)

// Status represents asset availability
type Status string

const (
	StatusAvailable   Status = "available"
	StatusInUse       Status = "in_use"
	StatusMaintenance Status = "maintenance"
	StatusRetired     Status = "retired"
)

// ValidStatus reports whether s is a known asset status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusMaintenance, StatusRetired:
		return true
	}
	return false
}

// HistoryEvent represents the kind of history record attached to an asset
type HistoryEvent string

const (
	EventCheckout    HistoryEvent = "checkout"
	EventCheckin     HistoryEvent = "checkin"
	EventMaintenance HistoryEvent = "maintenance"
	EventNote        HistoryEvent = "note"
)

// Operation is the kind of mutation captured in the outbox
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OutboxStatus is the lifecycle state of a pending mutation
type OutboxStatus string

const (
	OutboxPending  OutboxStatus = "pending"
	OutboxInFlight OutboxStatus = "in_flight"
	OutboxFailed   OutboxStatus = "failed"
	OutboxDead     OutboxStatus = "dead"
)

// Entity type names used in the outbox and the delta feed.
const (
	EntityAsset   = "assets"
	EntityHistory = "asset_history"
)

// Asset is a tracked inventory item
type Asset struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      Status     `json:"status"`
	Location    string     `json:"location,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Serial      string     `json:"serial,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// AssetHistory is an append-only record of something that happened to an asset
type AssetHistory struct {
	ID         string       `json:"id"`
	AssetID    string       `json:"asset_id"`
	Event      HistoryEvent `json:"event"`
	Actor      string       `json:"actor,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// OutboxEntry is one captured local mutation awaiting remote confirmation.
// Payload is a snapshot of the entity at capture time, never a live reference.
type OutboxEntry struct {
	ID            int64
	EntityType    string
	EntityID      string
	Op            Operation
	Payload       []byte // JSON
	CreatedAt     time.Time
	RetryCount    int
	Status        OutboxStatus
	LastError     string
	NextAttemptAt time.Time
}

// SyncState is the per-installation sync cursor row
type SyncState struct {
	DeviceID   string
	SyncCursor string
	LastSyncAt *time.Time
}
