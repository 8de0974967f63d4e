// Package errs defines the error kinds surfaced by the query pipeline.
package errs

import (
	"fmt"
	"strings"
)

// Code identifies an error kind
type Code string

const (
	CodeModelLoad          Code = "MODEL_LOAD_FAILED"
	CodeCatalogInvalid     Code = "CATALOG_INVALID"
	CodeCatalogNotFound    Code = "CATALOG_NOT_FOUND"
	CodeUnresolvedEntity   Code = "UNRESOLVED_ENTITY"
	CodeClassification     Code = "CLASSIFICATION_FAILED"
	CodeGenerationBackend  Code = "GENERATION_BACKEND_FAILED"
	CodeGenerationCanceled Code = "GENERATION_CANCELLED"
	CodeResponseParse      Code = "RESPONSE_PARSE_FAILED"
)

// Error is a coded error. Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code      Code
	Message   string
	Details   []string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Details, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrModelLoad          = &Error{Code: CodeModelLoad}
	ErrCatalogInvalid     = &Error{Code: CodeCatalogInvalid}
	ErrCatalogNotFound    = &Error{Code: CodeCatalogNotFound}
	ErrUnresolvedEntity   = &Error{Code: CodeUnresolvedEntity}
	ErrClassification     = &Error{Code: CodeClassification}
	ErrGenerationBackend  = &Error{Code: CodeGenerationBackend}
	ErrGenerationCanceled = &Error{Code: CodeGenerationCanceled}
	ErrResponseParse      = &Error{Code: CodeResponseParse}
)

func NewModelLoadError(path string, err error) *Error {
	return &Error{Code: CodeModelLoad, Message: fmt.Sprintf("load model %q", path), Err: err}
}

func NewCatalogInvalidError(err error) *Error {
	return &Error{Code: CodeCatalogInvalid, Message: "malformed entity catalog", Err: err}
}

func NewCatalogNotFoundError(projectID string) *Error {
	return &Error{Code: CodeCatalogNotFound, Message: fmt.Sprintf("no catalog for project %q", projectID)}
}

// NewUnresolvedEntityError lists the span texts that matched nothing in the catalog
func NewUnresolvedEntityError(texts []string) *Error {
	return &Error{
		Code:    CodeUnresolvedEntity,
		Message: "entities not found in catalog",
		Details: texts,
	}
}

func NewClassificationError(err error) *Error {
	return &Error{Code: CodeClassification, Message: "intent classification failed", Err: err}
}

// NewGenerationBackendError wraps a transport or status failure from an LLM backend
func NewGenerationBackendError(provider string, retryable bool, err error) *Error {
	return &Error{
		Code:      CodeGenerationBackend,
		Message:   provider + " backend error",
		Retryable: retryable,
		Err:       err,
	}
}

func NewGenerationCanceledError(err error) *Error {
	return &Error{Code: CodeGenerationCanceled, Message: "generation cancelled", Err: err}
}

func NewResponseParseError(err error) *Error {
	return &Error{Code: CodeResponseParse, Message: "response is not a JSON object", Err: err}
}

// CodeOf returns the code of err, or "" when err is not an *Error
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsRetryable reports whether err carries the Retryable flag
func IsRetryable(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
