package quiz

import (
	"errors"
	"testing"
	"time"
)

const sunQuiz = "Q: What is the sun?\nA) A planet\nB) A star\nC) A moon\nD) A comet\nAnswer: B\n"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func TestParseSingleQuestion(t *testing.T) {
	qs := Parse(sunQuiz)
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
	q := qs[0]
	if q.Stem != "What is the sun?" {
		t.Errorf("unexpected stem %q", q.Stem)
	}
	if len(q.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(q.Options))
	}
	if q.Options[1] != "B) A star" {
		t.Errorf("unexpected option B %q", q.Options[1])
	}
	if q.Correct != "B" {
		t.Errorf("expected correct label B, got %q", q.Correct)
	}
}

func TestParseDropsPreambleAndHandlesSeveral(t *testing.T) {
	raw := "Sure! Here are your questions:\n\n" +
		"Q: First?\nA) a\nB) b\nC) c\nD) d\nAnswer: C\n\n" +
		"Q: Second?\n\nA) a\nB) b\n\nC) c\nD) d\nAnswer: D) d\n"
	qs := Parse(raw)
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if qs[0].Correct != "C" || qs[1].Correct != "D" {
		t.Errorf("unexpected labels %q %q", qs[0].Correct, qs[1].Correct)
	}
	if qs[1].Stem != "Second?" {
		t.Errorf("unexpected stem %q", qs[1].Stem)
	}
}

func TestParseMissingAnswerDefaultsToA(t *testing.T) {
	qs := Parse("Q: No answer line?\nA) one\nB) two\nC) three\nD) four\n")
	if len(qs) != 1 {
		t.Fatalf("expected 1 question, got %d", len(qs))
	}
	if qs[0].Correct != "A" {
		t.Fatalf("expected default label A, got %q", qs[0].Correct)
	}
}

func TestParseMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no delimiter":   "I could not generate questions from this material.",
		"api error text": "⚠️ API Error: 500 Internal Server Error",
		"short options":  "Q: Too few?\nA) one\nB) two\nAnswer: A",
		"empty fragment": "Q:   \nQ:",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Parse(raw); len(got) != 0 {
				t.Fatalf("expected no questions, got %d", len(got))
			}
		})
	}
}

func TestAnswerLabel(t *testing.T) {
	cases := map[string]string{
		"Answer: B":               "B",
		"Answer: b":               "B",
		"Answer: C) A moon":       "C",
		"**Answer:** D.":          "D",
		"Answer:":                 "A",
		"Correct Answer: Option": "Option",
	}
	for line, want := range cases {
		if got := answerLabel(line); got != want {
			t.Errorf("answerLabel(%q) = %q, want %q", line, got, want)
		}
	}
}

func TestOptionLabel(t *testing.T) {
	if got := OptionLabel("B) A star"); got != "B" {
		t.Errorf("got %q", got)
	}
	if got := OptionLabel(" C "); got != "C" {
		t.Errorf("got %q", got)
	}
}

func TestEndToEndSunQuiz(t *testing.T) {
	clock := newClock()
	s, err := NewSession(Parse(sunQuiz), 0, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	v := s.Render()
	if v.State != StateInProgress || v.Question == nil {
		t.Fatalf("expected a question to render, got %+v", v)
	}
	if v.Remaining != 20 {
		t.Errorf("expected 20 seconds remaining, got %d", v.Remaining)
	}

	res, err := s.Submit("B) A star")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsRight {
		t.Fatalf("expected a correct answer, got %+v", res)
	}

	v = s.Render()
	if v.State != StateComplete {
		t.Fatalf("expected complete, got %s", v.State)
	}
	if got := FormatScore(v.Score, v.Total); got != "1/1" {
		t.Fatalf("expected 1/1, got %s", got)
	}
}

func TestRenderCountsDownAndTimesOut(t *testing.T) {
	clock := newClock()
	qs := Parse(sunQuiz + "Q: Second?\nA) a\nB) b\nC) c\nD) d\nAnswer: A\n")
	s, err := NewSession(qs, 30*time.Second, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	s.Render()
	clock.Advance(12 * time.Second)
	if v := s.Render(); v.Remaining != 18 || v.Index != 0 {
		t.Fatalf("expected index 0 with 18s left, got %+v", v)
	}

	clock.Advance(18 * time.Second)
	v := s.Render()
	if v.TimedOut != 1 {
		t.Fatalf("expected a timeout to be reported, got %+v", v)
	}
	if v.Index != 1 || v.Question == nil || v.Question.Stem != "Second?" {
		t.Fatalf("expected to move to the second question, got %+v", v)
	}
	if v.Remaining != 30 {
		t.Fatalf("next question should get a fresh timer, got %d", v.Remaining)
	}

	answers := s.Answers()
	if len(answers) != 1 || answers[0].Chosen != NoAnswer || answers[0].Correct != "B" {
		t.Fatalf("unexpected answer trail %+v", answers)
	}
}

func TestLateSubmissionIsRecordedAsTimeout(t *testing.T) {
	clock := newClock()
	s, err := NewSession(Parse(sunQuiz), 10*time.Second, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	s.Render()
	clock.Advance(11 * time.Second)
	res, err := s.Submit("B) A star")
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut || res.IsRight {
		t.Fatalf("expected a timed-out result, got %+v", res)
	}
	if s.Score() != 0 || !s.Complete() {
		t.Fatalf("expected 0 score and complete session, score=%d complete=%v", s.Score(), s.Complete())
	}
}

func TestAnswerTrailMatchesTotal(t *testing.T) {
	clock := newClock()
	raw := ""
	for i := 0; i < 5; i++ {
		raw += "Q: Question?\nA) a\nB) b\nC) c\nD) d\nAnswer: B\n"
	}
	s, err := NewSession(Parse(raw), 20*time.Second, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	if s.Total() != 5 {
		t.Fatalf("expected 5 questions, got %d", s.Total())
	}

	// alternate manual answers, wrong answers and timeouts
	for step := 0; !s.Complete(); step++ {
		s.Render()
		if len(s.Answers()) != s.Index() {
			t.Fatalf("trail length %d != index %d", len(s.Answers()), s.Index())
		}
		switch step % 3 {
		case 0:
			if _, err := s.Submit("B) b"); err != nil {
				t.Fatal(err)
			}
		case 1:
			if _, err := s.Submit("A) a"); err != nil {
				t.Fatal(err)
			}
		default:
			clock.Advance(21 * time.Second)
		}
	}

	v := s.Render()
	if v.State != StateComplete || len(v.Answers) != 5 || v.Total != 5 {
		t.Fatalf("unexpected terminal view %+v", v)
	}

	right := 0
	for _, a := range v.Answers {
		if a.Chosen == a.Correct {
			right++
		}
	}
	if right != v.Score {
		t.Fatalf("score %d does not match correct answers %d", v.Score, right)
	}
}

func TestEmptyQuizIsTerminal(t *testing.T) {
	s, err := NewSession(Parse("nothing useful"), 0)
	if err != nil {
		t.Fatal(err)
	}
	v := s.Render()
	if v.State != StateComplete || v.Total != 0 {
		t.Fatalf("expected empty terminal view, got %+v", v)
	}
	if got := FormatScore(v.Score, v.Total); got != "0/0" {
		t.Fatalf("expected 0/0, got %s", got)
	}
	if _, err := s.Submit("A) x"); !errors.Is(err, ErrComplete) {
		t.Fatalf("expected ErrComplete, got %v", err)
	}
}

func TestSubmitRejectsUnknownOption(t *testing.T) {
	s, err := NewSession(Parse(sunQuiz), 0)
	if err != nil {
		t.Fatal(err)
	}
	s.Render()
	if _, err := s.Submit("E) A galaxy"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if s.Index() != 0 {
		t.Fatal("rejected submission must not advance")
	}
	if res, err := s.Submit("B"); err != nil || !res.IsRight {
		t.Fatalf("bare label should be accepted, res=%+v err=%v", res, err)
	}
}

func TestTimePerQuestionBounds(t *testing.T) {
	if _, err := NewSession(nil, 5*time.Second); !errors.Is(err, ErrTimeOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if _, err := NewSession(nil, 121*time.Second); !errors.Is(err, ErrTimeOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
}
