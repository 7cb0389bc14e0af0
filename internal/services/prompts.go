package services

import (
	"fmt"
	"strings"
)

// Template names a prompt layout.
type Template string

const (
	TemplateTutorExplain Template = "tutor_explain"
	TemplateNotesQA      Template = "notes_qa"
	TemplateImageQA      Template = "image_qa"
	TemplateQuizGenerate Template = "quiz_generate"
)

// maxEmbeddedChars bounds any document text placed in a prompt.
const maxEmbeddedChars = 3000

// PromptFields carries the values a template interpolates. Each template uses
// only the fields it names.
type PromptFields struct {
	Subject       string
	Question      string
	Notes         string
	ExtractedText string
	Material      string
	Count         int
}

const quizInstruction = `
You are an expert education quiz assistant. Based on this study material, generate exactly %d MCQs. Each question should follow this format:

Q: What is ...
A) Option A
B) Option B
C) Option C
D) Option D
Answer: B

Here is the theory material:
%s
`

// ComposePrompt renders the named template. Embedded document text is cut to
// its first 3000 characters without notice.
func ComposePrompt(kind Template, f PromptFields) (string, error) {
	switch kind {
	case TemplateTutorExplain:
		return fmt.Sprintf("You are a helpful and calm %s tutor. Explain this clearly:\n\n%s", f.Subject, f.Question), nil
	case TemplateNotesQA:
		return fmt.Sprintf("You are a tutor helping a student. They uploaded these notes:\n%s\nNow answer this question clearly:\n%s",
			truncate(f.Notes, maxEmbeddedChars), f.Question), nil
	case TemplateImageQA:
		return fmt.Sprintf("You are a friendly STEM tutor. Explain this question clearly:\n\n%s",
			truncate(f.ExtractedText, maxEmbeddedChars)), nil
	case TemplateQuizGenerate:
		return fmt.Sprintf(quizInstruction, f.Count, truncate(f.Material, maxEmbeddedChars)), nil
	default:
		return "", fmt.Errorf("unknown prompt template %q", kind)
	}
}

// truncate takes a prefix of at most limit characters.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// Subjects the Ask flow accepts.
var Subjects = []string{"Physics", "Math", "Chemistry", "Biology", "Computer Science"}

// NormalizeSubject matches a subject case-insensitively. The empty string
// selects the first subject.
func NormalizeSubject(subject string) (string, bool) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Subjects[0], true
	}
	for _, s := range Subjects {
		if strings.EqualFold(s, subject) {
			return s, true
		}
	}
	return "", false
}
