package sql

import (
	"encoding/json"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/serialization"
)

// --- Mapper functions ---

func fromDomainJobRecord(r *model.JobRecord) *JobRecordEntity {
	if r == nil {
		return nil
	}
	return &JobRecordEntity{
		ID:          r.ID,
		JobType:     r.JobType,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		FinishedAt:  r.FinishedAt,
		PurgeAt:     r.PurgeAt,
		RequestData: r.RequestData,

		ModelsCreated:         r.ModelsCreated,
		ModelsDeleted:         r.ModelsDeleted,
		TwinsCreated:          r.TwinsCreated,
		TwinsDeleted:          r.TwinsDeleted,
		RelationshipsCreated:  r.RelationshipsCreated,
		RelationshipsDeleted:  r.RelationshipsDeleted,
		ModelsExported:        r.ModelsExported,
		TwinsExported:         r.TwinsExported,
		RelationshipsExported: r.RelationshipsExported,
		ErrorCount:            r.ErrorCount,

		JobError: r.Error,
	}
}

func toDomainJobRecord(entity *JobRecordEntity) *model.JobRecord {
	if entity == nil {
		return nil
	}
	return &model.JobRecord{
		ID:          entity.ID,
		JobType:     entity.JobType,
		Status:      entity.Status,
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
		FinishedAt:  entity.FinishedAt,
		PurgeAt:     entity.PurgeAt,
		RequestData: entity.RequestData,

		ModelsCreated:         entity.ModelsCreated,
		ModelsDeleted:         entity.ModelsDeleted,
		TwinsCreated:          entity.TwinsCreated,
		TwinsDeleted:          entity.TwinsDeleted,
		RelationshipsCreated:  entity.RelationshipsCreated,
		RelationshipsDeleted:  entity.RelationshipsDeleted,
		ModelsExported:        entity.ModelsExported,
		TwinsExported:         entity.TwinsExported,
		RelationshipsExported: entity.RelationshipsExported,
		ErrorCount:            entity.ErrorCount,

		Error: entity.JobError,
	}
}

func fromDomainLockInfo(l *model.LockInfo) *JobLockEntity {
	if l == nil {
		return nil
	}
	return &JobLockEntity{
		JobID:      l.JobID,
		Owner:      l.Owner,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

func toDomainLockInfo(entity *JobLockEntity) *model.LockInfo {
	if entity == nil {
		return nil
	}
	return &model.LockInfo{
		JobID:      entity.JobID,
		Owner:      entity.Owner,
		AcquiredAt: entity.AcquiredAt,
		ExpiresAt:  entity.ExpiresAt,
	}
}

func fromDomainCheckpoint(c *model.Checkpoint) (*CheckpointEntity, error) {
	if c == nil {
		return nil, nil
	}
	done, err := serialization.MarshalSectionFlags(c.SectionsDone)
	if err != nil {
		return nil, err
	}
	counts, err := json.Marshal(c.SectionCounts)
	if err != nil {
		return nil, err
	}
	return &CheckpointEntity{
		JobID:          c.JobID,
		JobType:        c.JobType,
		CurrentSection: c.CurrentSection,
		SectionIndex:   model.SectionIndex(c.JobType, c.CurrentSection),
		ItemsInSection: c.ItemsInSection,
		SectionsDone:   string(done),
		SectionCounts:  string(counts),
		ErrorCount:     c.ErrorCount,
		LastUpdated:    c.LastUpdated,
	}, nil
}

func toDomainCheckpoint(entity *CheckpointEntity) (*model.Checkpoint, error) {
	if entity == nil {
		return nil, nil
	}
	c := &model.Checkpoint{
		JobID:          entity.JobID,
		JobType:        entity.JobType,
		CurrentSection: entity.CurrentSection,
		ItemsInSection: entity.ItemsInSection,
		SectionsDone:   make(map[string]bool),
		SectionCounts:  make(map[string]int),
		ErrorCount:     entity.ErrorCount,
		LastUpdated:    entity.LastUpdated,
	}
	if err := serialization.UnmarshalSectionFlags([]byte(entity.SectionsDone), &c.SectionsDone); err != nil {
		return nil, err
	}
	if entity.SectionCounts != "" && entity.SectionCounts != "null" {
		if err := json.Unmarshal([]byte(entity.SectionCounts), &c.SectionCounts); err != nil {
			return nil, err
		}
	}
	return c, nil
}
