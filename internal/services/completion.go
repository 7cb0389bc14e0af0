package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAIUnavailable is returned when no API key is configured.
	ErrAIUnavailable = &CompletionError{Kind: KindConfiguration, Message: "⚠️ API key not found."}
	// ErrModelMissing is returned when a key is set but no model is named.
	ErrModelMissing = &CompletionError{Kind: KindConfiguration, Message: "⚠️ Completion model not configured."}
)

// maxErrorBody bounds how much of a non-JSON error body reaches the user.
const maxErrorBody = 300

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindStatus        ErrorKind = "status"
	KindMalformed     ErrorKind = "malformed"
)

// CompletionError is the only error Complete returns. Message is meant to be
// shown to the user in place of an answer.
type CompletionError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *CompletionError) Error() string { return e.Message }

func (e *CompletionError) Unwrap() error { return e.Err }

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// CompletionService talks to an OpenAI-compatible chat completion endpoint.
// Each call is attempted exactly once.
type CompletionService struct {
	client *openai.Client
	model  string
	log    logrus.FieldLogger
}

func NewCompletionService(apiKey, model, apiEndpoint string, log logrus.FieldLogger) *CompletionService {
	if apiKey == "" {
		return &CompletionService{log: log}
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	return &CompletionService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log,
	}
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (s *CompletionService) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if s.client == nil {
		return "", ErrAIUnavailable
	}
	if s.model == "" {
		return "", ErrModelMissing
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		cerr := classify(ctx, err)
		s.log.WithError(err).WithFields(logrus.Fields{
			"kind":     cerr.Kind,
			"status":   cerr.Status,
			"duration": time.Since(start).String(),
		}).Warn("completion request failed")
		return "", cerr
	}
	if len(resp.Choices) == 0 {
		return "", &CompletionError{Kind: KindMalformed, Message: "⚠️ API Error: response contained no choices"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &CompletionError{Kind: KindMalformed, Message: "⚠️ API Error: response contained no text"}
	}

	s.log.WithFields(logrus.Fields{
		"model":    s.model,
		"duration": time.Since(start).String(),
		"tokens":   resp.Usage.TotalTokens,
	}).Debug("completion received")
	return content, nil
}

func classify(ctx context.Context, err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{
			Kind:    KindStatus,
			Status:  apiErr.HTTPStatusCode,
			Message: fmt.Sprintf("⚠️ API Error: %d %s: %s", apiErr.HTTPStatusCode, http.StatusText(apiErr.HTTPStatusCode), apiErr.Message),
			Err:     err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := fmt.Sprintf("⚠️ API Error: %d %s", reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode))
		if body := clipBody(strings.TrimSpace(string(reqErr.Body)), maxErrorBody); body != "" {
			msg += ": " + body
		}
		return &CompletionError{Kind: KindStatus, Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}

	// A successful status whose body does not decode.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &CompletionError{Kind: KindMalformed, Message: "⚠️ API Error: unreadable response: " + err.Error(), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CompletionError{Kind: KindTransport, Message: "⚠️ API Error: request timed out", Err: err}
	}
	return &CompletionError{Kind: KindTransport, Message: fmt.Sprintf("⚠️ API Error: %v", err), Err: err}
}

func clipBody(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
