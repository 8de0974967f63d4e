package models

import "time"

// GenerationRequest is one prompt sent to a text-generation backend
type GenerationRequest struct {
	Query  string `json:"query"`
	Prompt string `json:"prompt"`
	AsJSON bool   `json:"as_json"`
}

// GenerationResponse is the terminal record of one LLM call. RawResponse always
// holds an object: the parsed JSON answer, {"raw_text": ...} or {"error": ...}.
type GenerationResponse struct {
	ID            string            `json:"id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Request       GenerationRequest `json:"request"`
	Agents        []AgentType       `json:"agents,omitempty"`
	RawResponse   map[string]any    `json:"raw_response"`
	Text          string            `json:"text"`
	ModelName     string            `json:"model_name"`
	ModelProvider string            `json:"model_provider"`
	TimeInSeconds float64           `json:"time_in_seconds"`
	Attempts      int               `json:"attempts"`

	// Err is the failure absorbed into RawResponse, if any
	Err error `json:"-"`

	// ParseErr is set when a JSON answer was requested but the body was not a
	// JSON object and RawResponse fell back to raw_text. It does not fail the call.
	ParseErr error `json:"-"`

	// Chunks counts fragments delivered to the caller's callback
	Chunks int `json:"-"`
}

// Failed reports whether the call ended in an error response
func (r *GenerationResponse) Failed() bool {
	return r != nil && r.Err != nil
}

// StageError records a failed workflow stage without aborting the run
type StageError struct {
	Stage   string `json:"stage"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WorkflowResult aggregates everything produced for one query
type WorkflowResult struct {
	ID            string              `json:"id"`
	Query         string              `json:"query"`
	ProjectID     string              `json:"project_id,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	Intent        *IntentResult       `json:"intent,omitempty"`
	Entities      *ExtractedEntities  `json:"entities,omitempty"`
	Response      *GenerationResponse `json:"response,omitempty"`
	Errors        []StageError        `json:"errors,omitempty"`
	TimeInSeconds float64             `json:"time_in_seconds"`
}

// Answer returns the "Answer" field of a JSON response, or the raw text
func (w *WorkflowResult) Answer() string {
	if w == nil || w.Response == nil {
		return ""
	}
	if s, ok := w.Response.RawResponse["Answer"].(string); ok && s != "" {
		return s
	}
	if s, ok := w.Response.RawResponse["raw_text"].(string); ok {
		return s
	}
	return w.Response.Text
}
