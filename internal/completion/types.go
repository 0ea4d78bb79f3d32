package completion

import (
	"fmt"
	"time"
)

type FailureKind string

const (
	FailureTransport FailureKind = "transport_error"
	FailureUpstream  FailureKind = "upstream_error"
	FailureEmpty     FailureKind = "empty_response"
)

// UnknownError is the message used when an error response carries no body.
const UnknownError = "Erro desconhecido."

// Failure classifies why a completion produced no text.
type Failure struct {
	Kind FailureKind

	// Upstream only.
	Code    int
	Message string

	// Transport only. Timeout is set when the failure was a deadline or
	// network timeout, so callers can word the reply differently.
	Timeout bool
	Err     error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureUpstream:
		return fmt.Sprintf("upstream error (%d): %s", f.Code, f.Message)
	case FailureTransport:
		if f.Err != nil {
			return "transport error: " + f.Err.Error()
		}
		return "transport error"
	default:
		return string(f.Kind)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of one Complete call. Exactly one of Text and
// Failure is meaningful.
type Result struct {
	Text    string
	Usage   Usage
	Latency time.Duration
	Failure *Failure
}

func (r Result) OK() bool { return r.Failure == nil }

// Err returns Failure as an error, or nil.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Wire format of an OpenAI-compatible chat completions endpoint.

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type response struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
