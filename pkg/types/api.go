package types

// GenerateRequest is the payload for POST /v1/generate.
type GenerateRequest struct {
	Prompt       string  `json:"prompt"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	TopP         float32 `json:"top_p,omitempty"`
	TopK         int     `json:"top_k,omitempty"`
	Seed         int     `json:"seed,omitempty"`
}

// GenerateResponse is the non-streaming generation result.
type GenerateResponse struct {
	Text         string `json:"text"`
	PromptTokens int    `json:"prompt_tokens"`
	NewTokens    int    `json:"new_tokens"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StatusResponse reports what the serve process has loaded.
type StatusResponse struct {
	ModelType string   `json:"model_type"`
	Task      string   `json:"task"`
	EngineDir string   `json:"engine_dir"`
	Engines   []Engine `json:"engines"`
	Ready     bool     `json:"ready"`
}

// ErrorResponse is the JSON error payload used by all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
