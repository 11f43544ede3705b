package processor

import (
	"fmt"
	"time"

	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
)

// BackoffPolicy holds the base delay per retryable cause. The delay before
// attempt n+1 is base * 2^(n+1) where n is the image's retry count.
type BackoffPolicy struct {
	RateLimitBase time.Duration
	OverloadBase  time.Duration
	TransientBase time.Duration
}

// DefaultBackoff is 15s for rate limits, 30s for overload and 60s otherwise.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		RateLimitBase: 15 * time.Second,
		OverloadBase:  30 * time.Second,
		TransientBase: 60 * time.Second,
	}
}

// Base returns the base delay for cause.
func (p BackoffPolicy) Base(cause imagegen.Cause) time.Duration {
	switch cause {
	case imagegen.CauseRateLimited:
		return p.RateLimitBase
	case imagegen.CauseOverloaded:
		return p.OverloadBase
	}
	return p.TransientBase
}

// Delay returns the wait before the next attempt of an image that has
// already failed retryCount times.
func (p BackoffPolicy) Delay(cause imagegen.Cause, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return p.Base(cause) * time.Duration(int64(1)<<uint(retryCount+1))
}

// Outcome is the state an image moves to after one attempt.
type Outcome struct {
	Status         domain.ImageStatus
	Cause          imagegen.Cause
	Message        string
	NextRetryAt    *time.Time
	RetryIncrement int
}

// Decide maps the result of one attempt onto the image's next state. It
// has no side effects.
func Decide(img domain.Image, err error, now time.Time, maxRetries int, policy BackoffPolicy) Outcome {
	if err == nil {
		return Outcome{Status: domain.ImageStatusCompleted}
	}
	cause := imagegen.CauseOf(err)
	msg := imagegen.MessageOf(err)

	if !cause.Retryable() {
		return Outcome{Status: domain.ImageStatusFailed, Cause: cause, Message: msg}
	}
	attempts := img.RetryCount + 1
	if attempts >= maxRetries {
		return Outcome{
			Status:         domain.ImageStatusFailed,
			Cause:          cause,
			Message:        fmt.Sprintf("Gave up after %d attempts: %s", attempts, msg),
			RetryIncrement: 1,
		}
	}
	next := now.Add(policy.Delay(cause, img.RetryCount))
	return Outcome{
		Status:         domain.ImageStatusRetryLater,
		Cause:          cause,
		Message:        msg,
		NextRetryAt:    &next,
		RetryIncrement: 1,
	}
}
