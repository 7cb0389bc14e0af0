package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	GroqKey            string
	GroqEndpoint       string
	GroqModel          string
	VisionModel        string
	TranscriptionModel string
	AskTimeout         time.Duration
	QuizTimeout        time.Duration
	HistoryFile        string
	BookmarkFile       string
	Database           string
	UploadDir          string
	LogLevel           string
	LogFormat          string
	Port               string
	SessionIdle        time.Duration
}

const (
	minCompletionTimeout = 15 * time.Second
	maxCompletionTimeout = 60 * time.Second
)

// Load reads configuration from the environment, providing sensible defaults.
// A missing API key is not an error: completions degrade to a warning instead.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("GROQ_API_ENDPOINT", "https://api.groq.com/openai/v1")
	v.SetDefault("GROQ_MODEL", "llama-3.3-70b-versatile")
	v.SetDefault("GROQ_VISION_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct")
	v.SetDefault("GROQ_TRANSCRIPTION_MODEL", "whisper-large-v3")
	v.SetDefault("ASK_TIMEOUT", "30s")
	v.SetDefault("QUIZ_TIMEOUT", "60s")
	v.SetDefault("HISTORY_FILE", "chat_history.json")
	v.SetDefault("BOOKMARK_FILE", "bookmarked_questions.json")
	v.SetDefault("DATABASE_PATH", "./data/tutor.db")
	v.SetDefault("UPLOAD_DIR", "./data/uploads")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("PORT", "8080")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "2h")

	cfg := Config{
		GroqKey:            v.GetString("GROQ_API_KEY"),
		GroqEndpoint:       v.GetString("GROQ_API_ENDPOINT"),
		GroqModel:          v.GetString("GROQ_MODEL"),
		VisionModel:        v.GetString("GROQ_VISION_MODEL"),
		TranscriptionModel: v.GetString("GROQ_TRANSCRIPTION_MODEL"),
		AskTimeout:         clampTimeout(v.GetDuration("ASK_TIMEOUT")),
		QuizTimeout:        clampTimeout(v.GetDuration("QUIZ_TIMEOUT")),
		HistoryFile:        v.GetString("HISTORY_FILE"),
		BookmarkFile:       v.GetString("BOOKMARK_FILE"),
		Database:           v.GetString("DATABASE_PATH"),
		UploadDir:          v.GetString("UPLOAD_DIR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		Port:               v.GetString("PORT"),
		SessionIdle:        v.GetDuration("SESSION_IDLE_TIMEOUT"),
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return cfg, fmt.Errorf("ensure upload dir %s: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return cfg, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}

	return cfg, nil
}

// clampTimeout keeps completion timeouts within the 15-60s window the tutor flows use.
func clampTimeout(d time.Duration) time.Duration {
	if d < minCompletionTimeout {
		return minCompletionTimeout
	}
	if d > maxCompletionTimeout {
		return maxCompletionTimeout
	}
	return d
}
