package ingest

import (
	"time"

	"github.com/google/uuid"
)

// JobKindProcessStudy is the only job kind the queue runs today.
const JobKindProcessStudy = "process-study"

// Job statuses. Waiting and active are live queue states; completed and
// failed are terminal and eventually evicted.
const (
	JobStatusWaiting   = "waiting"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Payload is what one archive notification boils down to after normalization.
// RawNotification keeps the original body for debugging bad payloads.
type Payload struct {
	ExternalStudyID string    `json:"externalStudyId"`
	RequestID       string    `json:"requestId"`
	SubmittedAt     time.Time `json:"submittedAt"`
	RawNotification string    `json:"rawNotification,omitempty"`
}

// Outcome is the durable result of one completed pipeline run.
type Outcome struct {
	StudyID       uuid.UUID `json:"studyId"`
	StudyUID      string    `json:"studyUid"`
	PatientID     uuid.UUID `json:"patientId"`
	LabID         uuid.UUID `json:"labId"`
	Status        string    `json:"status"`
	SeriesCount   int       `json:"seriesCount"`
	InstanceCount int       `json:"instanceCount"`
	Method        string    `json:"method"`
}

// Job tracks one notification through the pipeline. Jobs live only in the
// queue's memory; their terminal state is mirrored into the result cache
// before eviction.
type Job struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Payload   Payload   `json:"payload"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Result    *Outcome  `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	finishedAt time.Time
}

func (j *Job) terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// clone returns a copy that is safe to hand out after the queue's lock is
// released.
func (j *Job) clone() *Job {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return &cp
}
