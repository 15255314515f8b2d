package ollama

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// GenerateResponse is the non-streaming response from /api/generate.
// Response is a pointer so a missing field can be told apart from an empty one.
type GenerateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

type ModelInfo struct {
	Name string `json:"name"`
}

// ListModelsResponse is the response from /api/tags. Models is a pointer so a
// missing field can be told apart from an empty list.
type ListModelsResponse struct {
	Models *[]ModelInfo `json:"models"`
}

type apiError struct {
	Error string `json:"error"`
}
