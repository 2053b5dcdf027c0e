package model

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"mangosqueezy/internal/server/statemachine"
)

type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
)

// StepJob is one unit of provider work for a pipeline step. Rows are kept for audit.
type StepJob struct {
	ID             uint                  `gorm:"primaryKey" json:"id"`
	PipelineID     string                `gorm:"type:varchar(36);not null;index" json:"pipeline_id"`
	StepKind       statemachine.StepKind `gorm:"type:varchar(32);not null" json:"step_kind"`
	Target         string                `gorm:"type:varchar(255)" json:"target,omitempty"`
	IdempotencyKey string                `gorm:"type:varchar(255);not null;uniqueIndex" json:"idempotency_key"`
	AttemptCount   int                   `gorm:"not null;default:0" json:"attempt_count"`
	Status         JobStatus             `gorm:"type:varchar(16);not null;index" json:"status"`
	ExternalID     string                `gorm:"type:varchar(128);index" json:"external_id,omitempty"`
	ErrorKind      string                `gorm:"type:varchar(32)" json:"error_kind,omitempty"`
	ErrorDetail    string                `gorm:"type:text" json:"-"`
	Result         datatypes.JSON        `json:"result,omitempty"`
	// DispatchedAt is set once the provider accepted the current attempt.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IdempotencyKey derives the job key from the pipeline, the step kind and, for fan-out steps,
// the target the job acts on.
func IdempotencyKey(pipelineID string, kind statemachine.StepKind, target string) string {
	key := pipelineID + ":" + string(kind)
	if target != "" {
		key += ":" + strings.ToLower(strings.TrimSpace(target))
	}
	return key
}

// Affiliates decodes the affiliates an AffiliateSearch job found.
func (j *StepJob) Affiliates() ([]Affiliate, error) {
	if len(j.Result) == 0 {
		return nil, nil
	}
	var affiliates []Affiliate
	if err := json.Unmarshal(j.Result, &affiliates); err != nil {
		return nil, err
	}
	return affiliates, nil
}
