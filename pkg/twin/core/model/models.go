package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a bulk job.
type JobStatus string

const (
	JobStatusNotStarted         JobStatus = "NOT_STARTED"
	JobStatusRunning            JobStatus = "RUNNING"
	JobStatusSucceeded          JobStatus = "SUCCEEDED"
	JobStatusPartiallySucceeded JobStatus = "PARTIALLY_SUCCEEDED"
	JobStatusFailed             JobStatus = "FAILED"
	JobStatusCancelling         JobStatus = "CANCELLING"
	JobStatusCancelled          JobStatus = "CANCELLED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal checks if the JobStatus represents a terminal state.
// Terminal states set FinishedAt and a purge horizon; no further transitions are legal.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartiallySucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the transition s -> next is legal.
// The machine is NotStarted -> Running -> {Succeeded, PartiallySucceeded, Failed,
// Cancelling -> Cancelled}; terminal states accept nothing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusNotStarted:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		switch next {
		case JobStatusSucceeded, JobStatusPartiallySucceeded, JobStatusFailed, JobStatusCancelling:
			return true
		}
		return false
	case JobStatusCancelling:
		// The owning executor may still finish the in-flight batch before noticing.
		switch next {
		case JobStatusCancelled, JobStatusSucceeded, JobStatusPartiallySucceeded, JobStatusFailed:
			return true
		}
		return false
	default:
		return false
	}
}

// JobType identifies the executor responsible for a job.
type JobType string

const (
	JobTypeImport JobType = "import"
	JobTypeDelete JobType = "delete"
	JobTypeExport JobType = "export"
)

// String returns the JobType as a string.
func (t JobType) String() string {
	return string(t)
}

// Section is an ordered phase of bulk processing with a fixed dependency order.
type Section string

const (
	SectionHeader        Section = "Header"
	SectionModels        Section = "Models"
	SectionTwins         Section = "Twins"
	SectionRelationships Section = "Relationships"
	SectionCompleted     Section = "Completed"
)

// String returns the Section as a string.
func (s Section) String() string {
	return string(s)
}

// SectionOrder returns the ordered section sequence for a job type, ending with
// the Completed sentinel. Delete runs the reverse dependency order of import:
// relationships must be removed before their endpoints and twins before the
// models they instantiate.
func SectionOrder(jobType JobType) []Section {
	switch jobType {
	case JobTypeImport:
		return []Section{SectionHeader, SectionModels, SectionTwins, SectionRelationships, SectionCompleted}
	case JobTypeDelete:
		return []Section{SectionRelationships, SectionTwins, SectionModels, SectionCompleted}
	case JobTypeExport:
		return []Section{SectionModels, SectionTwins, SectionRelationships, SectionCompleted}
	default:
		return []Section{SectionCompleted}
	}
}

// SectionIndex returns the position of a section within the job type's order,
// or -1 if the section does not belong to that order.
func SectionIndex(jobType JobType, section Section) int {
	for i, s := range SectionOrder(jobType) {
		if s == section {
			return i
		}
	}
	return -1
}

// NextSection returns the section following the given one in the job type's
// order. The Completed sentinel is its own successor.
func NextSection(jobType JobType, section Section) Section {
	order := SectionOrder(jobType)
	idx := SectionIndex(jobType, section)
	if idx < 0 || idx >= len(order)-1 {
		return SectionCompleted
	}
	return order[idx+1]
}

// RequestData is the opaque JSON payload needed to resume or describe a job.
type RequestData map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the RequestData to a JSON string.
func (rd RequestData) Value() (driver.Value, error) {
	if rd == nil {
		return "{}", nil
	}
	data, err := json.Marshal(rd)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to RequestData.
func (rd *RequestData) Scan(value interface{}) error {
	if value == nil {
		*rd = make(RequestData)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RequestData: %T", value)
	}

	if len(b) == 0 {
		*rd = make(RequestData)
		return nil
	}

	if err := json.Unmarshal(b, rd); err != nil {
		return fmt.Errorf("failed to unmarshal RequestData JSON: %w", err)
	}
	return nil
}

// GetString retrieves the value for the specified key as a string.
func (rd RequestData) GetString(key string) (string, bool) {
	val, ok := rd[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetBool retrieves the value for the specified key as a bool.
func (rd RequestData) GetBool(key string) (bool, bool) {
	val, ok := rd[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetInt retrieves the value for the specified key as an int.
// Numbers unmarshaled from JSON arrive as float64 and are converted.
func (rd RequestData) GetInt(key string) (int, bool) {
	val, ok := rd[key]
	if !ok {
		return 0, false
	}
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// JobError is the structured error surfaced on a failed or partially failed job.
type JobError struct {
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Value implements the `driver.Valuer` interface, converting the JobError to a JSON string.
func (e JobError) Value() (driver.Value, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a JobError.
func (e *JobError) Scan(value interface{}) error {
	if value == nil {
		*e = JobError{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobError: %T", value)
	}

	if len(b) == 0 {
		*e = JobError{}
		return nil
	}

	if err := json.Unmarshal(b, e); err != nil {
		return fmt.Errorf("failed to unmarshal JobError JSON: %w", err)
	}
	return nil
}

// IsZero reports whether the error carries no information.
func (e JobError) IsZero() bool {
	return e.Code == "" && e.Message == "" && len(e.Details) == 0
}

// JobRecord is the durable record of a bulk job, the universal job result/status
// shape exposed to collaborators.
type JobRecord struct {
	ID          string
	JobType     JobType
	Status      JobStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
	PurgeAt     *time.Time
	RequestData RequestData

	ModelsCreated        int
	ModelsDeleted        int
	TwinsCreated         int
	TwinsDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	ModelsExported       int
	TwinsExported        int
	RelationshipsExported int
	ErrorCount           int

	Error JobError
}

// NewJobRecord creates a JobRecord in the NotStarted state.
func NewJobRecord(id string, jobType JobType, requestData RequestData) *JobRecord {
	now := time.Now()
	if requestData == nil {
		requestData = make(RequestData)
	}
	return &JobRecord{
		ID:          id,
		JobType:     jobType,
		Status:      JobStatusNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
		RequestData: requestData,
	}
}

// Finish moves the record into a terminal state, stamping FinishedAt and the
// purge horizon computed from the completion time.
func (r *JobRecord) Finish(status JobStatus, retention time.Duration) {
	now := time.Now()
	r.Status = status
	r.UpdatedAt = now
	r.FinishedAt = &now
	purgeAt := now.Add(retention)
	r.PurgeAt = &purgeAt
}

// Checkpoint is the durable progress marker for a job, latest-wins per job id.
// Resume logic is "start the loop at the persisted section and offset".
type Checkpoint struct {
	JobID          string
	JobType        JobType
	CurrentSection Section
	// ItemsInSection is the number of items already committed within CurrentSection.
	ItemsInSection int
	// SectionsDone maps a completed section name to true.
	SectionsDone map[string]bool
	// SectionCounts holds per-section processed-item counters.
	SectionCounts map[string]int
	ErrorCount    int
	LastUpdated   time.Time
}

// NewCheckpoint creates a checkpoint positioned at the first section of the
// job type's order, with all completion flags false.
func NewCheckpoint(jobID string, jobType JobType) *Checkpoint {
	order := SectionOrder(jobType)
	return &Checkpoint{
		JobID:          jobID,
		JobType:        jobType,
		CurrentSection: order[0],
		SectionsDone:   make(map[string]bool),
		SectionCounts:  make(map[string]int),
		LastUpdated:    time.Now(),
	}
}

// IsCompleted reports whether the checkpoint has reached the Completed sentinel.
func (c *Checkpoint) IsCompleted() bool {
	return c.CurrentSection == SectionCompleted
}

// CompleteSection marks the current section done and advances to the next one,
// resetting the in-section offset. CurrentSection never regresses.
func (c *Checkpoint) CompleteSection() {
	if c.CurrentSection == SectionCompleted {
		return
	}
	c.SectionsDone[c.CurrentSection.String()] = true
	c.CurrentSection = NextSection(c.JobType, c.CurrentSection)
	c.ItemsInSection = 0
	c.LastUpdated = time.Now()
}

// RecordItems adds processed items to the current section's counters.
func (c *Checkpoint) RecordItems(n int) {
	c.ItemsInSection += n
	c.SectionCounts[c.CurrentSection.String()] += n
	c.LastUpdated = time.Now()
}

// IsAheadOf reports whether other represents earlier progress than c.
// Used to enforce that checkpoint writes are strictly ordered per job.
func (c *Checkpoint) IsAheadOf(other *Checkpoint) bool {
	if other == nil {
		return true
	}
	ci := SectionIndex(c.JobType, c.CurrentSection)
	oi := SectionIndex(other.JobType, other.CurrentSection)
	if ci != oi {
		return ci > oi
	}
	return c.ItemsInSection >= other.ItemsInSection
}

// LockInfo describes a job lease for diagnostics.
type LockInfo struct {
	JobID      string
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// IsExpired reports whether the lease has passed its expiry against the given clock.
func (l *LockInfo) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Page is the universal query result shape: one page of materialized rows, the
// continuation token to fetch the next page (nil on the final page), and the
// coarse query charge for downstream rate-limiting.
type Page struct {
	Values            []interface{}
	ContinuationToken *string
	QueryCharge       float64
}

// NewID generates a new unique identifier (UUID).
func NewID() string {
	return uuid.New().String()
}
