package quiz

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// NoAnswer is recorded when a question's time runs out before a submission.
const NoAnswer = "(No Answer)"

const (
	MinTimePerQuestion     = 10 * time.Second
	MaxTimePerQuestion     = 120 * time.Second
	DefaultTimePerQuestion = 20 * time.Second
)

var (
	ErrComplete       = errors.New("quiz is already complete")
	ErrUnknownOption  = errors.New("option is not one of the current question's choices")
	ErrTimeOutOfRange = fmt.Errorf("time per question must be between %s and %s", MinTimePerQuestion, MaxTimePerQuestion)
)

type State string

const (
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
)

// Answer is one entry of the answer trail.
type Answer struct {
	Question string `json:"question"`
	Correct  string `json:"correct"`
	Chosen   string `json:"chosen"`
}

// View is what a client renders for the current state.
type View struct {
	State     State     `json:"state"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Score     int       `json:"score"`
	Question  *Question `json:"question,omitempty"`
	Remaining int       `json:"remainingSeconds,omitempty"`
	// TimedOut reports how many questions expired since the previous render.
	TimedOut int      `json:"timedOut,omitempty"`
	Answers  []Answer `json:"answers,omitempty"`
}

// SubmitResult describes the outcome of one submission.
type SubmitResult struct {
	Chosen   string `json:"chosen"`
	Correct  string `json:"correct"`
	IsRight  bool   `json:"isCorrect"`
	TimedOut bool   `json:"timedOut"`
}

// Session runs a single timed quiz. The timer is polled: deadlines are only
// checked when the session is rendered or answered. Session is not safe for
// concurrent use; callers serialise access per user.
type Session struct {
	questions       []Question
	index           int
	score           int
	answers         []Answer
	deadline        time.Time
	timePerQuestion time.Duration
	now             func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession starts a quiz over the given questions. A zero timePerQuestion
// selects the default.
func NewSession(questions []Question, timePerQuestion time.Duration, opts ...Option) (*Session, error) {
	if timePerQuestion == 0 {
		timePerQuestion = DefaultTimePerQuestion
	}
	if timePerQuestion < MinTimePerQuestion || timePerQuestion > MaxTimePerQuestion {
		return nil, ErrTimeOutOfRange
	}

	s := &Session{
		questions:       append([]Question(nil), questions...),
		answers:         make([]Answer, 0, len(questions)),
		timePerQuestion: timePerQuestion,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Total() int { return len(s.questions) }

func (s *Session) Index() int { return s.index }

func (s *Session) Score() int { return s.score }

func (s *Session) Complete() bool { return s.index >= len(s.questions) }

// Answers returns a copy of the answer trail.
func (s *Session) Answers() []Answer {
	return append([]Answer(nil), s.answers...)
}

// Render shows the current question, starting its timer on first display. If
// the running question's deadline has passed it is recorded as unanswered and
// the next question is rendered straight away.
func (s *Session) Render() View {
	timedOut := 0
	if s.expired() {
		s.timeout()
		timedOut++
	}

	if s.Complete() {
		v := s.terminalView()
		v.TimedOut = timedOut
		return v
	}

	now := s.now()
	if s.deadline.IsZero() {
		s.deadline = now.Add(s.timePerQuestion)
	}

	q := s.questions[s.index]
	return View{
		State:     StateInProgress,
		Index:     s.index,
		Total:     len(s.questions),
		Score:     s.score,
		Question:  &q,
		Remaining: int(math.Ceil(s.deadline.Sub(now).Seconds())),
		TimedOut:  timedOut,
	}
}

// Submit answers the current question with one of its displayed options.
// A submission arriving after the deadline is recorded as unanswered instead.
func (s *Session) Submit(option string) (SubmitResult, error) {
	if s.Complete() {
		return SubmitResult{}, ErrComplete
	}

	q := s.questions[s.index]
	if s.expired() {
		s.timeout()
		return SubmitResult{Chosen: NoAnswer, Correct: q.Correct, TimedOut: true}, nil
	}

	if !hasOption(q, option) {
		return SubmitResult{}, ErrUnknownOption
	}

	chosen := OptionLabel(option)
	right := chosen == q.Correct
	s.record(Answer{Question: q.Stem, Correct: q.Correct, Chosen: chosen})
	if right {
		s.score++
	}
	return SubmitResult{Chosen: chosen, Correct: q.Correct, IsRight: right}, nil
}

func (s *Session) expired() bool {
	return !s.Complete() && !s.deadline.IsZero() && !s.now().Before(s.deadline)
}

func (s *Session) timeout() {
	q := s.questions[s.index]
	s.record(Answer{Question: q.Stem, Correct: q.Correct, Chosen: NoAnswer})
}

// record appends to the trail and advances, keeping len(answers) == index.
func (s *Session) record(a Answer) {
	s.answers = append(s.answers, a)
	s.index++
	s.deadline = time.Time{}
}

func (s *Session) terminalView() View {
	return View{
		State:   StateComplete,
		Index:   s.index,
		Total:   len(s.questions),
		Score:   s.score,
		Answers: s.Answers(),
	}
}

// hasOption accepts either the full option text or its bare label.
func hasOption(q Question, option string) bool {
	label := strings.TrimSpace(option)
	for _, o := range q.Options {
		if o == option || OptionLabel(o) == label {
			return true
		}
	}
	return false
}

// FormatScore renders "score/total"; an empty quiz is "0/0".
func FormatScore(score, total int) string {
	return fmt.Sprintf("%d/%d", score, total)
}
