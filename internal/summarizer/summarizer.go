package summarizer

import (
	"context"

	"tldrpost/internal/domain"
)

// Summarizer produces a single summary for a given request. Failures are
// returned as *domain.SummaryError.
type Summarizer interface {
	Summarize(ctx context.Context, req domain.SummaryRequest) (string, error)
}
