package domain

import (
	"errors"
	"slices"
)

// UserFailureMessage is shown for every failed summary regardless of cause.
const UserFailureMessage = "Ollama is not running"

var (
	ErrRegistryUnavailable = errors.New("model registry unavailable")
	ErrUnknownModel        = errors.New("unknown model")
	ErrUnknownBlock        = errors.New("unknown block")
	ErrFeatureDisabled     = errors.New("summaries are disabled for this page")
	ErrNothingToSummarize  = errors.New("block has no text to summarize")
)

type BlockID uint64

type AnnotationState int

const (
	StateUninitialized AnnotationState = iota
	StateLoading
	StateResult
	StateError
)

func (s AnnotationState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateResult:
		return "result"
	case StateError:
		return "error"
	default:
		return "uninitialized"
	}
}

type ModelSelection struct {
	Available []string `json:"available"`
	Active    string   `json:"active"`
}

// Contains reports whether model is one of the available models.
func (s ModelSelection) Contains(model string) bool {
	return slices.Contains(s.Available, model)
}

type SummaryRequest struct {
	Model string
	Text  string
}

type FailureKind int

const (
	KindServiceUnavailable FailureKind = iota
	KindMalformedResponse
)

func (k FailureKind) String() string {
	if k == KindMalformedResponse {
		return "malformed_response"
	}
	return "service_unavailable"
}

// SummaryError is a classified summarization failure. Kind and Detail are
// for logs only; users always see UserFailureMessage.
type SummaryError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *SummaryError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Detail + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Detail
}

func (e *SummaryError) Unwrap() error {
	return e.Err
}

func (e *SummaryError) UserMessage() string {
	return UserFailureMessage
}

type BlockStatus struct {
	ID    BlockID `json:"id"`
	State string  `json:"state"`
	Model string  `json:"model"`
	Text  string  `json:"text,omitempty"`
}
