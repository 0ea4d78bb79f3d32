// Package relay delivers outbound messages through an external chat bridge
// over HTTP (for example a WhatsApp gateway).
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"joanabot/internal/retry"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

type Config struct {
	URL     string
	Timeout time.Duration
}

// Sender POSTs {"from": recipient, "text": text} to the bridge.
type Sender struct {
	url     string
	http    *http.Client
	retrier *retry.Retrier
	log     logx.Logger
}

func New(cfg Config, retrier *retry.Retrier, log logx.Logger) (*Sender, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("relay url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultMaxAttempts, retry.DefaultInitialBackoff, log)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{url: url, http: &http.Client{Timeout: timeout}, retrier: retrier, log: log}, nil
}

// Send implements broadcast.Sender.
func (s *Sender) Send(ctx context.Context, recipientID, text string) error {
	body, err := json.Marshal(transport.Inbound{From: recipientID, Text: text})
	if err != nil {
		return err
	}
	resp, err := s.retrier.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return s.http.Do(req)
	})
	if err != nil {
		return fmt.Errorf("relay send: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay send: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	s.log.Debug("relay delivered", logx.String("to", recipientID), logx.Int("status", resp.StatusCode))
	return nil
}
