package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"stem-tutor/internal/models"
)

var (
	// ErrNoDueReviews indicates that no bookmark is ready to review.
	ErrNoDueReviews = errors.New("no bookmarks due for review")
	ErrBadRating    = errors.New("rating must be again, hard, good or easy")
)

// DueReview pairs a bookmark with its scheduling state.
type DueReview struct {
	Record models.QARecord
	Review models.BookmarkReview
}

// ReviewService schedules bookmarked pairs with FSRS. Review state lives in
// SQLite keyed by the bookmark id, so the bookmark file itself is untouched.
type ReviewService struct {
	db     *sql.DB
	params fsrs.Parameters
	now    func() time.Time
}

func NewReviewService(db *sql.DB) *ReviewService {
	return &ReviewService{
		db:     db,
		params: fsrs.DefaultParam(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ParseRating accepts a rating name or its number (1-4).
func ParseRating(s string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < int(fsrs.Again) || n > int(fsrs.Easy) {
		return 0, ErrBadRating
	}
	return fsrs.Rating(n), nil
}

// NextDue returns the bookmark with the earliest due date that is not in the
// future. Bookmarks never reviewed before are due immediately.
func (s *ReviewService) NextDue(ctx context.Context, bookmarks []models.QARecord) (*DueReview, error) {
	if len(bookmarks) == 0 {
		return nil, ErrNoDueReviews
	}

	now := s.now()
	byID := make(map[string]models.QARecord, len(bookmarks))
	args := make([]any, 0, len(bookmarks)+1)
	for _, rec := range bookmarks {
		id := rec.ID()
		if _, dup := byID[id]; dup {
			continue
		}
		if err := s.track(ctx, s.db, rec, now); err != nil {
			return nil, err
		}
		byID[id] = rec
		args = append(args, id)
	}
	args = append(args, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(byID)), ",")
	row := s.db.QueryRowContext(ctx, `
		SELECT bookmark_id, question, due, stability, difficulty, elapsed_days, scheduled_days,
		       reps, lapses, state, last_review, updated_at
		FROM bookmark_reviews
		WHERE bookmark_id IN (`+placeholders+`) AND due IS NOT NULL AND due <= ?
		ORDER BY due ASC, updated_at ASC
		LIMIT 1;
	`, args...)
	review, err := scanReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueReviews
		}
		return nil, fmt.Errorf("load due review: %w", err)
	}
	return &DueReview{Record: byID[review.BookmarkID], Review: *review}, nil
}

// Review applies a rating to a bookmark and records the review log.
func (s *ReviewService) Review(ctx context.Context, rec models.QARecord, rating fsrs.Rating) (review *models.BookmarkReview, entry *models.ReviewLog, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	if err = s.track(ctx, tx, rec, now); err != nil {
		return nil, nil, err
	}

	id := rec.ID()
	review, err = scanReview(tx.QueryRowContext(ctx, `
		SELECT bookmark_id, question, due, stability, difficulty, elapsed_days, scheduled_days,
		       reps, lapses, state, last_review, updated_at
		FROM bookmark_reviews
		WHERE bookmark_id = ?;
	`, id))
	if err != nil {
		return nil, nil, fmt.Errorf("load review %s: %w", id, err)
	}

	scheduling := s.params.Repeat(review.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = ErrBadRating
		return nil, nil, err
	}
	review.ApplyFSRSCard(info.Card)
	review.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE bookmark_reviews
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE bookmark_id = ?;
	`,
		nullTimePtr(review.Due),
		review.Stability,
		review.Difficulty,
		review.ElapsedDays,
		review.ScheduledDays,
		review.Reps,
		review.Lapses,
		review.State,
		nullTimePtr(review.LastReview),
		review.UpdatedAt,
		id,
	); err != nil {
		return nil, nil, fmt.Errorf("update review %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (bookmark_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, id, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	entry = &models.ReviewLog{
		BookmarkID:    id,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return review, entry, nil
}

// Forget drops the scheduling state and logs of the given bookmarks.
func (s *ReviewService) Forget(ctx context.Context, bookmarkIDs ...string) error {
	for _, id := range bookmarkIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM bookmark_reviews WHERE bookmark_id = ?;`, id); err != nil {
			return fmt.Errorf("forget review %s: %w", id, err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// track creates a New-state row for a bookmark that has none yet.
func (s *ReviewService) track(ctx context.Context, db execer, rec models.QARecord, now time.Time) error {
	if _, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bookmark_reviews (bookmark_id, question, due, state, updated_at)
		VALUES (?, ?, ?, ?, ?);
	`, rec.ID(), rec.Question, now, int(fsrs.New), now); err != nil {
		return fmt.Errorf("track bookmark %s: %w", rec.ID(), err)
	}
	return nil
}

func scanReview(row *sql.Row) (*models.BookmarkReview, error) {
	r := &models.BookmarkReview{}
	if err := row.Scan(
		&r.BookmarkID,
		&r.Question,
		&r.Due,
		&r.Stability,
		&r.Difficulty,
		&r.ElapsedDays,
		&r.ScheduledDays,
		&r.Reps,
		&r.Lapses,
		&r.State,
		&r.LastReview,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}
