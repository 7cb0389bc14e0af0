package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stem-tutor/internal/models"
)

var ErrMaterialNotFound = errors.New("material not found")

// MaterialService stores uploaded notes and images with their extracted text.
type MaterialService struct {
	db        *sql.DB
	uploadDir string
}

func NewMaterialService(db *sql.DB, uploadDir string) *MaterialService {
	return &MaterialService{db: db, uploadDir: uploadDir}
}

// Create writes the upload under a fresh name and records it with its text.
func (s *MaterialService) Create(ctx context.Context, original string, kind models.MaterialKind, data []byte, pages int, text string) (*models.Material, error) {
	if kind != models.MaterialPDF && kind != models.MaterialImage {
		return nil, fmt.Errorf("unsupported material kind %s", kind)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + filepath.Ext(original)
	storedPath := filepath.Join(s.uploadDir, name)
	if err := os.WriteFile(storedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (original_name, stored_path, kind, page_count, extracted_text, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, original, storedPath, kind, pages, text, now)
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, fmt.Errorf("insert material: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Material{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		Kind:         kind,
		PageCount:    pages,
		Text:         text,
		UploadedAt:   now,
	}, nil
}

func (s *MaterialService) GetByID(ctx context.Context, id int64) (*models.Material, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, kind, page_count, extracted_text, uploaded_at
		FROM materials WHERE id = ?;
	`, id)
	var m models.Material
	if err := row.Scan(
		&m.ID,
		&m.OriginalName,
		&m.StoredPath,
		&m.Kind,
		&m.PageCount,
		&m.Text,
		&m.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("material %d: %w", id, ErrMaterialNotFound)
		}
		return nil, fmt.Errorf("scan material: %w", err)
	}
	return &m, nil
}

// List returns the most recent uploads first.
func (s *MaterialService) List(ctx context.Context, limit int) ([]models.Material, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_path, kind, page_count, extracted_text, uploaded_at
		FROM materials
		ORDER BY uploaded_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []models.Material
	for rows.Next() {
		var m models.Material
		if err := rows.Scan(&m.ID, &m.OriginalName, &m.StoredPath, &m.Kind, &m.PageCount, &m.Text, &m.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Read opens the stored upload.
func (s *MaterialService) Read(m *models.Material) (io.ReadCloser, error) {
	f, err := os.Open(m.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("open material %d: %w", m.ID, err)
	}
	return f, nil
}
