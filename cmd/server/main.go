package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"stem-tutor/internal/api"
	"stem-tutor/internal/config"
	"stem-tutor/internal/db"
	"stem-tutor/internal/logging"
	"stem-tutor/internal/metrics"
	"stem-tutor/internal/ocr"
	"stem-tutor/internal/services"
	"stem-tutor/internal/store"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if cfg.GroqKey == "" {
		log.Warn("GROQ_API_KEY is not set; answers will be replaced by a warning")
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer conn.Close()

	m := metrics.New()
	st := store.Open(cfg.HistoryFile, cfg.BookmarkFile, log.WithField("component", "store"))
	materialService := services.NewMaterialService(conn, cfg.UploadDir)
	reviewService := services.NewReviewService(conn)
	completionService := services.NewCompletionService(cfg.GroqKey, cfg.GroqModel, cfg.GroqEndpoint, log.WithField("component", "completion"))
	speechService := services.NewSpeechService(cfg.GroqKey, cfg.TranscriptionModel, cfg.GroqEndpoint, log.WithField("component", "speech"))
	ocrService := ocr.NewService(ocr.Config{
		APIKey:  cfg.GroqKey,
		BaseURL: cfg.GroqEndpoint,
		Model:   cfg.VisionModel,
	}, log.WithField("component", "ocr"))

	tutorService := services.NewTutorService(
		completionService,
		st,
		materialService,
		services.NewPDFService(),
		ocrService,
		services.TutorConfig{
			AskTimeout:  cfg.AskTimeout,
			QuizTimeout: cfg.QuizTimeout,
			Observer:    m,
		},
		log.WithField("component", "tutor"),
	)

	server := api.NewServer(api.Deps{
		Tutor:     tutorService,
		Materials: materialService,
		Reviews:   reviewService,
		Speech:    speechService,
		Store:     st,
		Sessions:  api.NewSessionManager(cfg.SessionIdle),
		Metrics:   m,
		Log:       log.WithField("component", "http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "model": cfg.GroqModel}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}
