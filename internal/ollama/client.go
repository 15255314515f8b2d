// Package ollama talks to a local Ollama service over its native HTTP API.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "http://127.0.0.1:11434"

	tagsPath     = "/api/tags"
	generatePath = "/api/generate"
)

type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeStatus
	ErrTypeInvalidResponse
	ErrTypeMissingField
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeStatus:
		return "status"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeMissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// ClientError classifies a failed call so callers can tell transport
// problems from malformed payloads.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Client is safe for concurrent use.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json"),
	}
}

// ListModels returns the names of all locally installed models in the order
// the service reports them.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(tagsPath)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "list models", Cause: err}
	}

	if !resp.IsSuccess() {
		return nil, statusError("list models", resp)
	}

	var result ListModelsResponse
	if err = json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "decode model list", Cause: err}
	}
	if result.Models == nil {
		return nil, &ClientError{Type: ErrTypeMissingField, Message: "model list has no models field"}
	}

	names := make([]string, 0, len(*result.Models))
	seen := make(map[string]struct{}, len(*result.Models))
	for _, m := range *result.Models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names, nil
}

// Generate performs one non-streaming generation and returns the response
// text verbatim.
func (c *Client) Generate(ctx context.Context, model string, prompt string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(GenerateRequest{Model: model, Prompt: prompt, Stream: false}).
		Post(generatePath)
	if err != nil {
		return "", &ClientError{Type: ErrTypeConnection, Message: "generate", Cause: err}
	}

	if !resp.IsSuccess() {
		return "", statusError("generate", resp)
	}

	var result GenerateResponse
	if err = json.Unmarshal(resp.Body(), &result); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "decode generate response", Cause: err}
	}
	if result.Response == nil || *result.Response == "" {
		return "", &ClientError{Type: ErrTypeMissingField, Message: "generate response has no response field"}
	}

	return *result.Response, nil
}

func statusError(op string, resp *resty.Response) *ClientError {
	msg := fmt.Sprintf("%s: unexpected status: %d", op, resp.StatusCode())

	var apiErr apiError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Error != "" {
		msg += " (" + apiErr.Error + ")"
	}

	return &ClientError{Type: ErrTypeStatus, Message: msg, StatusCode: resp.StatusCode()}
}

// IsType reports whether err is a *ClientError of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == t
}
