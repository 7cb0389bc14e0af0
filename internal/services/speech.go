package services

import (
	"context"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// SpeechFallback is returned whenever a recording cannot be transcribed.
const SpeechFallback = "Sorry, I couldn't understand that."

// MaxSpeechBytes bounds an uploaded recording.
const MaxSpeechBytes = 10 << 20

type SpeechService struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewSpeechService(apiKey, model, apiEndpoint string, log logrus.FieldLogger) *SpeechService {
	s := &SpeechService{model: model, timeout: 30 * time.Second, log: log}
	if apiKey == "" {
		return s
	}
	cfg := openai.DefaultConfig(apiKey)
	if apiEndpoint != "" {
		cfg.BaseURL = apiEndpoint
	}
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

// Transcribe converts a recording into text. It never fails: any problem
// yields SpeechFallback. The second result reports whether recognition worked.
func (s *SpeechService) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, bool) {
	if s.client == nil || s.model == "" {
		s.log.Warn("speech transcription requested without an api key")
		return SpeechFallback, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: filename,
		Reader:   io.LimitReader(audio, MaxSpeechBytes),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		s.log.WithError(err).Warn("speech transcription failed")
		return SpeechFallback, false
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return SpeechFallback, false
	}
	return text, true
}
