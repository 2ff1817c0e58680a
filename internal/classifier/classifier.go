package classifier

import (
	"context"

	"github.com/example/skin-check/internal/prediction"
)

// Client exposes the subset of the inference service used by the analysis flow.
type Client interface {
	Classify(ctx context.Context, requestID string, image []byte, mimeType string) (*prediction.Result, error)
}
