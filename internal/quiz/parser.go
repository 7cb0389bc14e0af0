package quiz

import (
	"strings"
	"unicode"
)

const (
	questionDelimiter = "Q:"
	answerMarker      = "Answer:"
	optionCount       = 4
	defaultLabel      = "A"
)

// Question is one parsed multiple-choice item.
type Question struct {
	Stem    string   `json:"stem"`
	Options []string `json:"options"`
	Correct string   `json:"-"`
}

// Parse turns raw model output into questions.
//
// The text is split on "Q:" and the fragment before the first delimiter is
// dropped. Within a fragment the first non-blank line is the stem and the
// following non-answer lines are the options. The first line containing
// "Answer:" names the correct label; without one the label defaults to "A".
// Fragments with an empty stem or fewer than four options are skipped.
func Parse(raw string) []Question {
	fragments := strings.Split(strings.TrimSpace(raw), questionDelimiter)
	if len(fragments) <= 1 {
		return []Question{}
	}

	questions := make([]Question, 0, len(fragments)-1)
	for _, fragment := range fragments[1:] {
		q, ok := parseFragment(fragment)
		if !ok {
			continue
		}
		questions = append(questions, q)
	}
	return questions
}

func parseFragment(fragment string) (Question, bool) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(fragment), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return Question{}, false
	}

	q := Question{Stem: lines[0], Correct: defaultLabel}
	answerSeen := false
	for _, line := range lines[1:] {
		if strings.Contains(line, answerMarker) {
			if !answerSeen {
				q.Correct = answerLabel(line)
				answerSeen = true
			}
			continue
		}
		if len(q.Options) < optionCount {
			q.Options = append(q.Options, line)
		}
	}

	if len(q.Options) < optionCount {
		return Question{}, false
	}
	return q, true
}

// answerLabel takes the text after the last colon, minus markdown emphasis. A leading single letter
// followed by ")" or "." ("B) A star", "b.") is reduced to the upper-case letter.
func answerLabel(line string) string {
	label := strings.Trim(line[strings.LastIndex(line, ":")+1:], " \t*_`")
	if label == "" {
		return defaultLabel
	}

	runes := []rune(label)
	if unicode.IsLetter(runes[0]) && (len(runes) == 1 || runes[1] == ')' || runes[1] == '.') {
		return strings.ToUpper(string(runes[0]))
	}
	return label
}

// OptionLabel extracts the label of a displayed option: the text before ")".
func OptionLabel(option string) string {
	label, _, _ := strings.Cut(option, ")")
	return strings.TrimSpace(label)
}
