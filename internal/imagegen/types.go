package imagegen

import (
	"context"

	"lightwork/internal/domain"
)

// Request is one image-to-image transformation.
type Request struct {
	Image       []byte
	MIMEType    string
	Instruction string
	Model       domain.ModelTier
}

// Result carries the transformed image bytes.
type Result struct {
	Data     []byte
	MIMEType string
}

// Transformer turns an image plus instruction into a new image. A failed call
// returns a *TransformError describing whether it is worth retrying.
type Transformer interface {
	Transform(ctx context.Context, req Request) (*Result, error)
}

// Checker is implemented by transformers that can be constructed in an
// unusable state, for example without credentials.
type Checker interface {
	Ready() error
}
