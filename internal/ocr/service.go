package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const extractPrompt = `Extract all of the text in this image exactly as written, including handwriting, equations and numbers.
Return only the extracted text with no commentary. If there is no readable text, return nothing.`

// service implements Service with a vision-capable chat model.
type service struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewService creates an OCR service with the given configuration. Without an
// API key every call fails with ErrNotConfigured.
func NewService(config Config, log logrus.FieldLogger) Service {
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	svc := &service{model: config.Model, timeout: timeout, log: log}
	if config.APIKey == "" {
		return svc
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	svc.client = openai.NewClientWithConfig(cfg)
	return svc
}

func (s *service) isConfigured() bool {
	return s.client != nil && s.model != ""
}

// ExtractText implements Service
func (s *service) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if !s.isConfigured() {
		return "", ErrNotConfigured
	}
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrExtraction)
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(image)
	}

	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: extractPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURI,
						},
					},
				},
			},
		},
		Temperature: 0,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.WithFields(logrus.Fields{"bytes": len(image), "mime": mimeType}).Debug("ocr request")
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		s.log.WithError(err).Warn("ocr request failed")
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: vision model returned no choices", ErrExtraction)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
