package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"stem-tutor/internal/quiz"
)

type generateQuizRequest struct {
	MaterialID      int64 `json:"materialId"`
	NumQuestions    int   `json:"numQuestions"`
	TimePerQuestion int   `json:"timePerQuestion"` // seconds
}

type answerRequest struct {
	Option string `json:"option"`
}

type quizResponse struct {
	quiz.View
	MaterialID int64  `json:"materialId"`
	Summary    string `json:"summary,omitempty"`
}

// handleGenerateQuiz replaces the session's quiz. A failed generation leaves
// any previous quiz in place.
func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var payload generateQuizRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.MaterialID <= 0 {
		writeError(w, http.StatusBadRequest, "materialId is required")
		return
	}
	tpq := time.Duration(payload.TimePerQuestion) * time.Second
	if tpq != 0 && (tpq < quiz.MinTimePerQuestion || tpq > quiz.MaxTimePerQuestion) {
		writeError(w, http.StatusBadRequest, quiz.ErrTimeOutOfRange.Error())
		return
	}

	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	questions, err := s.tutor.GenerateQuiz(r.Context(), payload.MaterialID, payload.NumQuestions)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	q, err := quiz.NewSession(questions, tpq, quiz.WithClock(s.clock))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	sess.quiz = q
	sess.materialID = payload.MaterialID

	writeJSON(w, http.StatusCreated, s.render(sess))
}

func (s *Server) handleRenderQuiz(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	if sess.quiz == nil {
		writeError(w, http.StatusNotFound, "no active quiz")
		return
	}
	writeJSON(w, http.StatusOK, s.render(sess))
}

func (s *Server) handleAnswerQuiz(w http.ResponseWriter, r *http.Request) {
	var payload answerRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	if sess.quiz == nil {
		writeError(w, http.StatusNotFound, "no active quiz")
		return
	}

	result, err := sess.quiz.Submit(payload.Option)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	switch {
	case result.TimedOut:
		s.metrics.ObserveQuizAnswer("timeout")
	case result.IsRight:
		s.metrics.ObserveQuizAnswer("correct")
	default:
		s.metrics.ObserveQuizAnswer("wrong")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
		"quiz":   s.render(sess),
	})
}

func (s *Server) handleLeaveQuiz(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Resolve(w, r)
	sess.Lock()
	defer sess.Unlock()

	if q := sess.quiz; q != nil && !q.Complete() {
		s.log.WithFields(logrus.Fields{
			"session":  sess.ID,
			"answered": q.Index(),
			"total":    q.Total(),
			"score":    q.Score(),
		}).Debug("quiz left before completion")
	}
	sess.quiz = nil
	sess.materialID = 0
	w.WriteHeader(http.StatusNoContent)
}

// render must be called with the session locked.
func (s *Server) render(sess *TutorSession) quizResponse {
	view := sess.quiz.Render()
	for i := 0; i < view.TimedOut; i++ {
		s.metrics.ObserveQuizAnswer("timeout")
	}
	resp := quizResponse{View: view, MaterialID: sess.materialID}
	if view.State == quiz.StateComplete {
		resp.Summary = "Your Score: " + quiz.FormatScore(view.Score, view.Total)
	}
	return resp
}
