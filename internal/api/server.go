package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"stem-tutor/internal/logging"
	"stem-tutor/internal/metrics"
	"stem-tutor/internal/models"
	"stem-tutor/internal/ocr"
	"stem-tutor/internal/quiz"
	"stem-tutor/internal/services"
	"stem-tutor/internal/store"
)

const (
	maxMultipartMemory = 8 << 20  // 8 MB
	maxUploadBytes     = 25 << 20 // 25 MB
	maxJSONBytes       = 1 << 20
)

// Transcriber converts recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, bool)
}

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	Tutor     *services.TutorService
	Materials *services.MaterialService
	Reviews   *services.ReviewService
	Speech    Transcriber
	Store     *store.Store
	Sessions  *SessionManager
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
	// Clock drives quiz timers; nil means time.Now.
	Clock func() time.Time
}

type Server struct {
	router    chi.Router
	tutor     *services.TutorService
	materials *services.MaterialService
	reviews   *services.ReviewService
	speech    Transcriber
	store     *store.Store
	sessions  *SessionManager
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	clock     func() time.Time
}

func NewServer(d Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		tutor:     d.Tutor,
		materials: d.Materials,
		reviews:   d.Reviews,
		speech:    d.Speech,
		store:     d.Store,
		sessions:  d.Sessions,
		metrics:   d.Metrics,
		log:       d.Log,
		clock:     d.Clock,
	}
	if s.sessions == nil {
		s.sessions = NewSessionManager(0)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/subjects", s.handleSubjects)
		r.Post("/ask", s.handleAsk)
		r.Post("/speech", s.handleSpeech)
		r.Get("/history", s.handleHistory)

		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.handleListBookmarks)
			r.Post("/", s.handleAddBookmark)
			r.Delete("/", s.handleUnbookmark)
			r.Get("/review/next", s.handleNextReview)
			r.Delete("/{id}", s.handleDeleteBookmark)
			r.Post("/{id}/review", s.handleReviewBookmark)
		})

		r.Route("/materials", func(r chi.Router) {
			r.Get("/", s.handleListMaterials)
			r.Post("/", s.handleUploadMaterial)
			r.Get("/{id}", s.handleGetMaterial)
			r.Get("/{id}/file", s.handleMaterialFile)
			r.Post("/{id}/ask", s.handleAskNotes)
			r.Post("/{id}/explain", s.handleExplainImage)
		})

		r.Route("/quiz", func(r chi.Router) {
			r.Post("/", s.handleGenerateQuiz)
			r.Get("/", s.handleRenderQuiz)
			r.Delete("/", s.handleLeaveQuiz)
			r.Post("/answer", s.handleAnswerQuiz)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"subjects": services.Subjects})
}

type askRequest struct {
	Subject  string `json:"subject"`
	Question string `json:"question"`
}

type recordResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type askResponse struct {
	recordResponse
	HistorySaved bool `json:"historySaved"`
}

func toRecordResponse(rec models.QARecord) recordResponse {
	return recordResponse{ID: rec.ID(), Question: rec.Question, Answer: rec.Answer}
}

func toRecordResponses(recs []models.QARecord) []recordResponse {
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	return out
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload askRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	res, err := s.tutor.Ask(r.Context(), payload.Subject, payload.Question)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{
		recordResponse: toRecordResponse(res.QARecord),
		HistorySaved:   res.HistorySaved,
	})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxSpeechBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	text, ok := s.speech.Transcribe(r.Context(), header.Filename, file)
	writeJSON(w, http.StatusOK, map[string]any{
		"text":       text,
		"recognized": ok,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history": toRecordResponses(s.store.History()),
	})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bookmarks": toRecordResponses(s.store.Bookmarks()),
	})
}

type bookmarkRequest struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	HistoryID string `json:"historyId"`
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var payload bookmarkRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	rec := models.QARecord{Question: payload.Question, Answer: payload.Answer}
	if payload.HistoryID != "" {
		found, ok := findRecord(s.store.History(), payload.HistoryID)
		if !ok {
			writeError(w, http.StatusNotFound, "history entry not found")
			return
		}
		rec = found
	}
	if strings.TrimSpace(rec.Question) == "" {
		writeError(w, http.StatusBadRequest, services.ErrEmptyQuestion.Error())
		return
	}

	added, err := s.store.Bookmark(rec)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"added":    added,
		"bookmark": toRecordResponse(rec),
	})
}

func (s *Server) handleUnbookmark(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if strings.TrimSpace(question) == "" {
		writeError(w, http.StatusBadRequest, "question query parameter is required")
		return
	}
	s.unbookmark(w, r, question)
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.FindBookmark(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	s.unbookmark(w, r, rec.Question)
}

func (s *Server) unbookmark(w http.ResponseWriter, r *http.Request, question string) {
	removed, err := s.store.Unbookmark(question)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	ids := make([]string, 0, len(removed))
	for _, rec := range removed {
		ids = append(ids, rec.ID())
	}
	if s.reviews != nil {
		if err := s.reviews.Forget(r.Context(), ids...); err != nil {
			s.log.WithError(err).Warn("failed to forget review state")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": len(removed)})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleNextReview(w http.ResponseWriter, r *http.Request) {
	due, err := s.reviews.NextDue(r.Context(), s.store.Bookmarks())
	if err != nil {
		if errors.Is(err, services.ErrNoDueReviews) {
			writeJSON(w, http.StatusOK, map[string]any{
				"bookmark": nil,
				"message":  "No bookmarks due. Come back later!",
			})
			return
		}
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bookmark": toRecordResponse(due.Record),
		"review":   toReviewResponse(&due.Review),
	})
}

func (s *Server) handleReviewBookmark(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.FindBookmark(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}

	var payload reviewRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	rating, err := services.ParseRating(payload.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	review, entry, err := s.reviews.Review(r.Context(), rec, rating)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bookmark": toRecordResponse(rec),
		"review":   toReviewResponse(review),
		"log": map[string]any{
			"rating":        entry.Rating,
			"scheduledDays": entry.ScheduledDays,
			"elapsedDays":   entry.ElapsedDays,
			"reviewedAt":    entry.ReviewedAt.Format(timeLayout),
		},
	})
}

func toReviewResponse(r *models.BookmarkReview) map[string]any {
	out := map[string]any{
		"state":      r.State,
		"reps":       r.Reps,
		"lapses":     r.Lapses,
		"stability":  r.Stability,
		"difficulty": r.Difficulty,
		"due":        nil,
	}
	if r.Due.Valid {
		out["due"] = r.Due.Time.Format(timeLayout)
	}
	return out
}

type materialResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Pages      int    `json:"pages"`
	Chars      int    `json:"chars"`
	Preview    string `json:"preview,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

func toMaterialResponse(m *models.Material, withPreview bool) materialResponse {
	out := materialResponse{
		ID:         m.ID,
		Name:       m.OriginalName,
		Kind:       string(m.Kind),
		Pages:      m.PageCount,
		Chars:      len([]rune(m.Text)),
		UploadedAt: m.UploadedAt.Format(timeLayout),
	}
	if withPreview {
		out.Preview = m.Preview()
	}
	return out
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.materials.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]materialResponse, 0, len(list))
	for i := range list {
		out = append(out, toMaterialResponse(&list[i], false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"materials": out})
}

func (s *Server) handleUploadMaterial(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	m, err := s.tutor.UploadMaterial(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMaterialResponse(m, true))
}

func (s *Server) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	m, err := s.materials.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMaterialResponse(m, true))
}

// handleMaterialFile streams the stored upload back with its original name.
func (s *Server) handleMaterialFile(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	m, err := s.materials.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	f, err := s.materials.Read(m)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer f.Close()

	body := bufio.NewReader(f)
	contentType := "application/pdf"
	if m.Kind != models.MaterialPDF {
		head, _ := body.Peek(512)
		contentType = http.DetectContentType(head)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": m.OriginalName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.WithError(err).WithField("material", m.ID).Warn("material download interrupted")
	}
}

type notesRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAskNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}
	var payload notesRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	rec, err := s.tutor.AskNotes(r.Context(), id, payload.Question)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (s *Server) handleExplainImage(w http.ResponseWriter, r *http.Request) {
	id, ok := materialID(w, r)
	if !ok {
		return
	}

	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	rec, err := s.tutor.ExplainImage(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func materialID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid material id")
		return 0, false
	}
	return id, true
}

func findRecord(recs []models.QARecord, id string) (models.QARecord, bool) {
	for _, rec := range recs {
		if rec.ID() == id {
			return rec, true
		}
	}
	return models.QARecord{}, false
}

// writeServiceError maps service failures to a status code. Completion and
// OCR messages are passed through verbatim.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var cerr *services.CompletionError
	switch {
	case errors.As(err, &cerr):
		status := http.StatusBadGateway
		if cerr.Kind == services.KindConfiguration {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": cerr.Message, "kind": string(cerr.Kind)})
	case errors.Is(err, ocr.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ocr.ErrExtraction):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, services.ErrMaterialNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrEmptyQuestion),
		errors.Is(err, services.ErrUnknownSubject),
		errors.Is(err, services.ErrQuizCount),
		errors.Is(err, services.ErrWrongMaterial),
		errors.Is(err, services.ErrUnsupportedMaterial),
		errors.Is(err, services.ErrNoText),
		errors.Is(err, services.ErrUnreadablePDF),
		errors.Is(err, services.ErrBadRating),
		errors.Is(err, quiz.ErrTimeOutOfRange),
		errors.Is(err, quiz.ErrUnknownOption):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quiz.ErrComplete):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

const timeLayout = time.RFC3339

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
