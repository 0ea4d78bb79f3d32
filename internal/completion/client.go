// Package completion calls an OpenAI-compatible chat completions endpoint.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"joanabot/internal/conversation/history"
	"joanabot/internal/retry"
	logx "joanabot/pkg/logx"
)

// maxBody bounds how much of a response is read.
const maxBody = 4 << 20

// PromptSource provides the system prompt for a user.
type PromptSource interface {
	SystemPrompt(displayName string) string
}

type Options struct {
	URL    string
	APIKey string
	Model  string

	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	RequestTimeout  time.Duration

	InputCostPer1K  float64
	OutputCostPer1K float64

	// HTTPClient overrides the client built from the timeouts.
	HTTPClient *http.Client
}

type Client struct {
	opts    Options
	http    *http.Client
	retrier *retry.Retrier
	prompts PromptSource
	log     logx.Logger
}

func New(opts Options, prompts PromptSource, retrier *retry.Retrier, log logx.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(opts.DialTimeout, opts.ResponseTimeout, opts.RequestTimeout)
	}
	if retrier == nil {
		retrier = &retry.Retrier{Log: log}
	}
	return &Client{opts: opts, http: hc, retrier: retrier, prompts: prompts, log: log}
}

// NewHTTPClient builds the long-lived client shared by every completion call.
// Zero durations fall back to 30s dial, 120s response header, 180s overall.
func NewHTTPClient(dial, responseHeader, overall time.Duration) *http.Client {
	if dial <= 0 {
		dial = 30 * time.Second
	}
	if responseHeader <= 0 {
		responseHeader = 120 * time.Second
	}
	if overall <= 0 {
		overall = 180 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 15 * time.Second}).DialContext
	tr.ResponseHeaderTimeout = responseHeader
	tr.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: tr, Timeout: overall}
}

// Complete asks the model to continue the conversation. The message list is
// the system prompt, one entry per windowed turn, and latest as the final
// user entry. When the window already ends with a user turn equal to latest,
// that turn serves as the final user entry and latest is not sent twice.
// It never returns an error; failures are classified in Result.
func (c *Client) Complete(ctx context.Context, displayName string, window []history.Turn, latest string) Result {
	msgs := make([]message, 0, len(window)+2)
	msgs = append(msgs, message{Role: "system", Content: c.prompts.SystemPrompt(displayName)})
	for _, t := range window {
		if !t.Role.Valid() || strings.TrimSpace(t.Text) == "" {
			continue
		}
		msgs = append(msgs, message{Role: string(t.Role), Content: t.Text})
	}
	// The orchestrator appends the new turn before windowing; don't send it twice.
	if last := msgs[len(msgs)-1]; len(msgs) == 1 || last.Role != "user" || last.Content != latest {
		msgs = append(msgs, message{Role: "user", Content: latest})
	}

	body, err := json.Marshal(request{Model: c.opts.Model, Messages: msgs})
	if err != nil {
		return Result{Failure: &Failure{Kind: FailureTransport, Err: err}}
	}

	start := time.Now()
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		return c.http.Do(req)
	})
	if err != nil {
		res := Result{Latency: time.Since(start), Failure: &Failure{Kind: FailureTransport, Timeout: isTimeout(err), Err: err}}
		c.log.Warn("completion transport failure", logx.Duration("latency", res.Latency), logx.Bool("timeout", res.Failure.Timeout), logx.Err(err))
		return res
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, Failure: &Failure{Kind: FailureTransport, Timeout: isTimeout(err), Err: err}}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f := &Failure{Kind: FailureUpstream, Code: resp.StatusCode, Message: errorMessage(raw)}
		c.log.Warn("completion upstream error", logx.Int("status", resp.StatusCode), logx.Duration("latency", latency), logx.String("message", f.Message))
		return Result{Latency: latency, Failure: f}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.log.Warn("completion response not json", logx.Err(err), logx.Duration("latency", latency))
		return Result{Latency: latency, Failure: &Failure{Kind: FailureEmpty}}
	}
	res := Result{Latency: latency, Text: extractText(parsed)}
	if parsed.Usage != nil {
		res.Usage = *parsed.Usage
	}
	c.logUsage(res)
	if res.Text == "" {
		res.Failure = &Failure{Kind: FailureEmpty}
	}
	return res
}

func (c *Client) logUsage(res Result) {
	fields := []logx.Field{
		logx.String("model", c.opts.Model),
		logx.Duration("latency", res.Latency),
	}
	if u := res.Usage; u.TotalTokens > 0 || u.PromptTokens > 0 {
		promptCost := float64(u.PromptTokens) / 1000 * c.opts.InputCostPer1K
		completionCost := float64(u.CompletionTokens) / 1000 * c.opts.OutputCostPer1K
		fields = append(fields,
			logx.Int("tokens.prompt", u.PromptTokens),
			logx.Int("tokens.completion", u.CompletionTokens),
			logx.Int("tokens.total", u.TotalTokens),
			logx.Float64("cost_usd", promptCost+completionCost),
		)
	}
	c.log.Info("completion done", fields...)
}

// extractText prefers choices[0].message.content and falls back to choices[0].text.
func extractText(r response) string {
	if len(r.Choices) == 0 {
		return ""
	}
	ch := r.Choices[0]
	if ch.Message != nil {
		if s := strings.TrimSpace(ch.Message.Content); s != "" {
			return s
		}
	}
	return strings.TrimSpace(ch.Text)
}

// errorMessage returns error.message from an error body, else the raw body,
// else UnknownError.
func errorMessage(raw []byte) string {
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != nil {
		if m := strings.TrimSpace(eb.Error.Message); m != "" {
			return m
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return UnknownError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
