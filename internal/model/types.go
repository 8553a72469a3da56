// Package model holds the core data types shared across the scraping
// engine: property records, scrape jobs, monitored searches, and queue
// jobs, as specified in spec.md §3.
package model

import "time"

// PropertyRecord is the unit persisted by the persistence gateway.
// property_id is the natural key; at most one row exists per id.
type PropertyRecord struct {
	PropertyID      string
	OwnerName       string
	PropType        string
	City            string // optional
	Address         string
	AssessedValue   *float64 // optional, non-negative when present
	AppraisedValue  float64  // non-negative
	GeoID           string // optional
	Description     string // optional (legal description)
	SearchTerm      string // optional, originating search term
	ScrapedAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScrapeJobStatus enumerates ScrapeJob.Status.
type ScrapeJobStatus string

const (
	ScrapeJobPending    ScrapeJobStatus = "pending"
	ScrapeJobProcessing ScrapeJobStatus = "processing"
	ScrapeJobCompleted  ScrapeJobStatus = "completed"
	ScrapeJobFailed     ScrapeJobStatus = "failed"
)

// ScrapeJob is the durable record of one search execution.
type ScrapeJob struct {
	ID          string
	SearchTerm  string
	Status      ScrapeJobStatus
	ResultCount *int
	Error       *string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Frequency enumerates MonitoredSearch.Frequency.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// MonitoredSearch is a persistent intent to re-scrape a term.
type MonitoredSearch struct {
	SearchTerm string
	Active     bool
	Frequency  Frequency
	LastRun    *time.Time
	NextRun    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// QueueJobStatus enumerates the broker state machine (spec.md §4.E).
type QueueJobStatus string

const (
	QueueJobWaiting   QueueJobStatus = "waiting"
	QueueJobActive    QueueJobStatus = "active"
	QueueJobDelayed   QueueJobStatus = "delayed"
	QueueJobCompleted QueueJobStatus = "completed"
	QueueJobFailed    QueueJobStatus = "failed"
)

// QueueJob is the in-flight representation held by the queue broker.
type QueueJob struct {
	ID         string
	SearchTerm string
	Scheduled  bool
	Attempt    int
	Priority   int
	Status     QueueJobStatus
	RunAfter   time.Time
	ClaimedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
