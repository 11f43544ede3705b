package domain

import (
	"fmt"
	"time"
)

// ImageStatus enumerates per-image processing states.
type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "PENDING"
	ImageStatusProcessing ImageStatus = "PROCESSING"
	ImageStatusCompleted  ImageStatus = "COMPLETED"
	ImageStatusFailed     ImageStatus = "FAILED"
	ImageStatusRetryLater ImageStatus = "RETRY_LATER"
)

var imageTransitions = map[ImageStatus][]ImageStatus{
	ImageStatusPending:    {ImageStatusProcessing, ImageStatusFailed},
	ImageStatusRetryLater: {ImageStatusProcessing, ImageStatusFailed},
	ImageStatusProcessing: {ImageStatusCompleted, ImageStatusFailed, ImageStatusRetryLater, ImageStatusPending},
	ImageStatusFailed:     {ImageStatusPending},
}

// Valid reports whether s is a known image status.
func (s ImageStatus) Valid() bool {
	switch s {
	case ImageStatusPending, ImageStatusProcessing, ImageStatusCompleted, ImageStatusFailed, ImageStatusRetryLater:
		return true
	}
	return false
}

// IsTerminal reports whether the engine will never touch the image again.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusCompleted || s == ImageStatusFailed
}

// IsActive is the complement of IsTerminal for known statuses.
func (s ImageStatus) IsActive() bool {
	return s == ImageStatusPending || s == ImageStatusProcessing || s == ImageStatusRetryLater
}

// Claimable reports whether an image in status s may be picked up by a cycle.
func (s ImageStatus) Claimable() bool {
	return s == ImageStatusPending || s == ImageStatusRetryLater
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ImageStatus) CanTransitionTo(next ImageStatus) bool {
	for _, allowed := range imageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ImageTransition validates an image status change.
func ImageTransition(from, to ImageStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: image %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Image is a single unit of work inside a job.
type Image struct {
	ID               string
	JobID            string
	Status           ImageStatus
	RetryCount       int
	NextRetryAt      *time.Time
	ErrorMessage     string
	OriginalKey      string
	OriginalFilename string
	MIMEType         string
	FileSize         int64
	SpecificPrompt   string
	ResultKey        string
	ResultMIMEType   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ProcessedAt      *time.Time
}

// StorageKeys lists the object keys owned by the image.
func (i Image) StorageKeys() []string {
	keys := make([]string, 0, 2)
	if i.OriginalKey != "" {
		keys = append(keys, i.OriginalKey)
	}
	if i.ResultKey != "" {
		keys = append(keys, i.ResultKey)
	}
	return keys
}

// ClaimedImage is an image moved to PROCESSING together with the job fields
// needed to transform it.
type ClaimedImage struct {
	Image
	JobInstruction string
	JobModel       ModelTier
}
