package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobNotStartable   = errors.New("job has no images to process")
	ErrJobClosed         = errors.New("job no longer accepts images")
	ErrStaleWrite        = errors.New("row changed concurrently")
	ErrInvalidInput      = errors.New("invalid input")
)
