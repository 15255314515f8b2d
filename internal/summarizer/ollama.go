package summarizer

import (
	"context"
	"errors"
	"strings"

	"tldrpost/internal/domain"
	"tldrpost/internal/ollama"
)

const promptPrefix = "summarize the following text very shortly: "

type generator interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

// OllamaSummarizer sends one /api/generate request per call. It never
// retries.
type OllamaSummarizer struct {
	client generator
}

func NewOllamaSummarizer(client generator) *OllamaSummarizer {
	return &OllamaSummarizer{client: client}
}

func Prompt(text string) string {
	return promptPrefix + text
}

func (s *OllamaSummarizer) Summarize(
	ctx context.Context,
	req domain.SummaryRequest,
) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", &domain.SummaryError{Kind: domain.KindMalformedResponse, Detail: "input is empty"}
	}

	summary, err := s.client.Generate(ctx, req.Model, Prompt(req.Text))
	if err != nil {
		return "", classify(err)
	}

	return summary, nil
}

func classify(err error) *domain.SummaryError {
	var ce *ollama.ClientError
	if !errors.As(err, &ce) {
		return &domain.SummaryError{Kind: domain.KindServiceUnavailable, Detail: "request failed", Err: err}
	}

	switch ce.Type {
	case ollama.ErrTypeInvalidResponse, ollama.ErrTypeMissingField:
		return &domain.SummaryError{Kind: domain.KindMalformedResponse, Detail: ce.Type.String(), Err: err}
	default:
		return &domain.SummaryError{Kind: domain.KindServiceUnavailable, Detail: ce.Type.String(), Err: err}
	}
}
