package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"stem-tutor/internal/models"
	"stem-tutor/internal/ocr"
	"stem-tutor/internal/quiz"
	"stem-tutor/internal/store"
)

const (
	MinQuizQuestions     = 1
	MaxQuizQuestions     = 10
	DefaultQuizQuestions = 3
)

var (
	ErrEmptyQuestion       = errors.New("please enter a question")
	ErrUnknownSubject      = errors.New("unknown subject")
	ErrQuizCount           = fmt.Errorf("number of questions must be between %d and %d", MinQuizQuestions, MaxQuizQuestions)
	ErrWrongMaterial       = errors.New("material has the wrong kind for this action")
	ErrUnsupportedMaterial = errors.New("only PDF notes and images are supported")
)

// Observer receives one event per completion call.
type Observer interface {
	ObserveCompletion(template, outcome string, d time.Duration)
}

type TutorConfig struct {
	AskTimeout  time.Duration
	QuizTimeout time.Duration
	Observer    Observer
}

// TutorService coordinates prompt composition, completion calls, material
// extraction and history persistence for every request flow.
type TutorService struct {
	completer Completer
	store     *store.Store
	materials *MaterialService
	pdf       *PDFService
	ocr       ocr.Service
	cfg       TutorConfig
	log       logrus.FieldLogger
}

func NewTutorService(
	completer Completer,
	st *store.Store,
	materials *MaterialService,
	pdf *PDFService,
	ocrService ocr.Service,
	cfg TutorConfig,
	log logrus.FieldLogger,
) *TutorService {
	return &TutorService{
		completer: completer,
		store:     st,
		materials: materials,
		pdf:       pdf,
		ocr:       ocrService,
		cfg:       cfg,
		log:       log,
	}
}

// AskResult is an answered question. HistorySaved is false when the answer
// could not be written to the history log.
type AskResult struct {
	models.QARecord
	HistorySaved bool
}

// Ask explains a typed or transcribed question and appends the pair to history.
// Completion failures are returned and leave history untouched. A failed
// history write still returns the answer.
func (s *TutorService) Ask(ctx context.Context, subject, question string) (AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AskResult{}, ErrEmptyQuestion
	}
	subject, ok := NormalizeSubject(subject)
	if !ok {
		return AskResult{}, fmt.Errorf("%w: choose one of %s", ErrUnknownSubject, strings.Join(Subjects, ", "))
	}

	answer, err := s.complete(ctx, TemplateTutorExplain, PromptFields{Subject: subject, Question: question}, s.cfg.AskTimeout)
	if err != nil {
		return AskResult{}, err
	}

	res := AskResult{QARecord: models.QARecord{Question: question, Answer: answer}, HistorySaved: true}
	if err := s.store.AppendHistory(res.QARecord); err != nil {
		s.log.WithError(err).Warn("failed to save history")
		res.HistorySaved = false
	}
	return res, nil
}

// AskNotes answers a question against the text of an uploaded PDF.
func (s *TutorService) AskNotes(ctx context.Context, materialID int64, question string) (models.QARecord, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.QARecord{}, ErrEmptyQuestion
	}
	m, err := s.material(ctx, materialID, models.MaterialPDF)
	if err != nil {
		return models.QARecord{}, err
	}

	answer, err := s.complete(ctx, TemplateNotesQA, PromptFields{Notes: m.Text, Question: question}, s.cfg.AskTimeout)
	if err != nil {
		return models.QARecord{}, err
	}
	return models.QARecord{Question: question, Answer: answer}, nil
}

// ExplainImage explains the question found in an uploaded image.
func (s *TutorService) ExplainImage(ctx context.Context, materialID int64) (models.QARecord, error) {
	m, err := s.material(ctx, materialID, models.MaterialImage)
	if err != nil {
		return models.QARecord{}, err
	}

	answer, err := s.complete(ctx, TemplateImageQA, PromptFields{ExtractedText: m.Text}, s.cfg.AskTimeout)
	if err != nil {
		return models.QARecord{}, err
	}
	return models.QARecord{Question: m.Text, Answer: answer}, nil
}

// GenerateQuiz asks for count questions about a PDF and parses the reply.
// A reply without any well-formed question yields an empty quiz.
func (s *TutorService) GenerateQuiz(ctx context.Context, materialID int64, count int) ([]quiz.Question, error) {
	if count == 0 {
		count = DefaultQuizQuestions
	}
	if count < MinQuizQuestions || count > MaxQuizQuestions {
		return nil, ErrQuizCount
	}
	m, err := s.material(ctx, materialID, models.MaterialPDF)
	if err != nil {
		return nil, err
	}

	raw, err := s.complete(ctx, TemplateQuizGenerate, PromptFields{Count: count, Material: m.Text}, s.cfg.QuizTimeout)
	if err != nil {
		return nil, err
	}

	questions := quiz.Parse(raw)
	s.log.WithFields(logrus.Fields{
		"material":  materialID,
		"requested": count,
		"parsed":    len(questions),
	}).Info("quiz generated")
	return questions, nil
}

// UploadMaterial extracts the text of a PDF or image and stores both.
// Uploads without any text are rejected with ErrNoText.
func (s *TutorService) UploadMaterial(ctx context.Context, filename, contentType string, data []byte) (*models.Material, error) {
	kind, mimeType, err := detectMaterial(filename, contentType, data)
	if err != nil {
		return nil, err
	}

	var (
		text  string
		pages int
	)
	switch kind {
	case models.MaterialPDF:
		extracted, err := s.pdf.ExtractText(data)
		if err != nil {
			return nil, fmt.Errorf("read pdf %s: %w", filename, err)
		}
		text, pages = extracted.Text, extracted.Pages
	case models.MaterialImage:
		text, err = s.ocr.ExtractText(ctx, data, mimeType)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("read image %s: %w", filename, ErrNoText)
		}
		pages = 1
	}

	m, err := s.materials.Create(ctx, filepath.Base(filename), kind, data, pages, text)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"material": m.ID,
		"kind":     kind,
		"pages":    pages,
		"chars":    len(text),
	}).Info("material stored")
	return m, nil
}

func (s *TutorService) material(ctx context.Context, id int64, want models.MaterialKind) (*models.Material, error) {
	m, err := s.materials.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Kind != want {
		return nil, fmt.Errorf("%w: material %d is %s, need %s", ErrWrongMaterial, id, m.Kind, want)
	}
	return m, nil
}

func (s *TutorService) complete(ctx context.Context, tmpl Template, fields PromptFields, timeout time.Duration) (string, error) {
	prompt, err := ComposePrompt(tmpl, fields)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := s.completer.Complete(ctx, prompt, timeout)
	if s.cfg.Observer != nil {
		outcome := "ok"
		var cerr *CompletionError
		if errors.As(err, &cerr) {
			outcome = string(cerr.Kind)
		} else if err != nil {
			outcome = "error"
		}
		s.cfg.Observer.ObserveCompletion(string(tmpl), outcome, time.Since(start))
	}
	return text, err
}

func detectMaterial(filename, contentType string, data []byte) (models.MaterialKind, string, error) {
	sniffed := http.DetectContentType(data)
	switch {
	case sniffed == "application/pdf",
		strings.EqualFold(filepath.Ext(filename), ".pdf"),
		contentType == "application/pdf":
		return models.MaterialPDF, "application/pdf", nil
	case strings.HasPrefix(sniffed, "image/"):
		return models.MaterialImage, sniffed, nil
	case strings.HasPrefix(contentType, "image/"):
		return models.MaterialImage, contentType, nil
	}
	return "", "", ErrUnsupportedMaterial
}
