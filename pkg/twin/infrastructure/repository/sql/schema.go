package sql

import (
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
)

// JobRecordEntity is a schema model used for persistence.
type JobRecordEntity struct {
	ID          string
	JobType     model.JobType
	Status      model.JobStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
	PurgeAt     *time.Time
	RequestData model.RequestData

	ModelsCreated         int
	ModelsDeleted         int
	TwinsCreated          int
	TwinsDeleted          int
	RelationshipsCreated  int
	RelationshipsDeleted  int
	ModelsExported        int
	TwinsExported         int
	RelationshipsExported int
	ErrorCount            int

	JobError model.JobError
}

func (JobRecordEntity) TableName() string {
	return "twin_jobs"
}

// JobLockEntity is a schema model for job lease rows.
type JobLockEntity struct {
	JobID      string `gorm:"primaryKey"`
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (JobLockEntity) TableName() string {
	return "twin_job_locks"
}

// CheckpointEntity is a schema model for job progress markers.
// SectionIndex mirrors CurrentSection's position in the job type's order so the
// non-regression guard can be evaluated inside the storage engine.
type CheckpointEntity struct {
	JobID          string `gorm:"primaryKey"`
	JobType        model.JobType
	CurrentSection model.Section
	SectionIndex   int
	ItemsInSection int
	SectionsDone   string
	SectionCounts  string
	ErrorCount     int
	LastUpdated    time.Time
}

func (CheckpointEntity) TableName() string {
	return "twin_job_checkpoints"
}
