package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	// A user retry of failed images reopens a finished job.
	JobStatusCompleted: {JobStatusProcessing},
	JobStatusFailed:    {JobStatusProcessing},
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no engine activity can change the job anymore.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobTransition validates a job status change.
func JobTransition(from, to JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ModelTier selects the transformation model used for every image of a job.
type ModelTier string

const (
	ModelStandard ModelTier = "standard"
	ModelPro      ModelTier = "pro"
)

// ParseModelTier maps user input onto a tier. Empty input selects the standard tier.
func ParseModelTier(raw string) (ModelTier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "standard", "nano_banana":
		return ModelStandard, nil
	case "pro", "nano_banana_pro":
		return ModelPro, nil
	}
	return "", fmt.Errorf("unknown model tier %q", raw)
}

// Job groups images that share an instruction and model tier.
type Job struct {
	ID              string
	Status          JobStatus
	Instruction     string
	Model           ModelTier
	TotalImages     int
	CompletedImages int
	FailedImages    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// ImageTally is a recount of a job's image rows by status.
type ImageTally struct {
	Total     int
	Completed int
	Failed    int
	Active    int
}

// Settled reports whether every image of the job reached a terminal status.
func (t ImageTally) Settled() bool {
	return t.Active == 0 && t.Completed+t.Failed >= t.Total
}

// FinalStatus is the terminal job status implied by a settled tally.
// A job is FAILED only when nothing succeeded.
func (t ImageTally) FinalStatus() JobStatus {
	if t.Failed == t.Total {
		return JobStatusFailed
	}
	return JobStatusCompleted
}
