package models

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

// QARecord is one question/answer pair. History and bookmarks both store it.
// Storage identity is the (Question, Answer) value itself.
type QARecord struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var recordNamespace = uuid.MustParse("6f1c2a0e-4d3b-5b8e-9a57-2f3c7b1d9e40")

// ID is a stable content-hash identifier used to address a record from clients.
// It is never persisted.
func (r QARecord) ID() string {
	return uuid.NewSHA1(recordNamespace, []byte(r.Question+"\x00"+r.Answer)).String()
}

// UnmarshalJSON accepts both {"question":..,"answer":..} objects and the older
// ["question","answer"] tuple layout.
func (r *QARecord) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []string
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("decode qa tuple: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("qa tuple has %d elements, want 2", len(pair))
		}
		r.Question, r.Answer = pair[0], pair[1]
		return nil
	}

	type plain QARecord
	var rec plain
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return err
	}
	*r = QARecord(rec)
	return nil
}

type MaterialKind string

const (
	MaterialPDF   MaterialKind = "pdf"
	MaterialImage MaterialKind = "image"
)

// Material is an uploaded PDF or image together with the text extracted from it.
type Material struct {
	ID           int64
	OriginalName string
	StoredPath   string
	Kind         MaterialKind
	PageCount    int
	Text         string
	UploadedAt   time.Time
}

const previewLimit = 2000

// Preview returns the first 2000 characters of the extracted text, marked when cut.
func (m *Material) Preview() string {
	runes := []rune(m.Text)
	if len(runes) <= previewLimit {
		return m.Text
	}
	return string(runes[:previewLimit]) + "..."
}

// BookmarkReview carries the FSRS scheduling state of one bookmark.
type BookmarkReview struct {
	BookmarkID    string
	Question      string
	Due           sql.NullTime
	Stability     float64
	Difficulty    float64
	ElapsedDays   int
	ScheduledDays int
	Reps          int
	Lapses        int
	State         int
	LastReview    sql.NullTime
	UpdatedAt     time.Time
}

type ReviewLog struct {
	BookmarkID    string
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

func (b *BookmarkReview) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     b.Stability,
		Difficulty:    b.Difficulty,
		ElapsedDays:   uint64(max(b.ElapsedDays, 0)),
		ScheduledDays: uint64(max(b.ScheduledDays, 0)),
		Reps:          uint64(max(b.Reps, 0)),
		Lapses:        uint64(max(b.Lapses, 0)),
		State:         fsrs.State(max(b.State, 0)),
	}
	if b.Due.Valid {
		card.Due = b.Due.Time
	}
	if b.LastReview.Valid {
		card.LastReview = b.LastReview.Time
	}
	return card
}

func (b *BookmarkReview) ApplyFSRSCard(f fsrs.Card) {
	b.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	b.Stability = f.Stability
	b.Difficulty = f.Difficulty
	b.ElapsedDays = int(f.ElapsedDays)
	b.ScheduledDays = int(f.ScheduledDays)
	b.Reps = int(f.Reps)
	b.Lapses = int(f.Lapses)
	b.State = int(f.State)
	b.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
