package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNoText is returned when a document or image yields no usable text.
	ErrNoText        = errors.New("no extractable text found")
	ErrUnreadablePDF = errors.New("unreadable pdf")
)

type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// PDFText is the text of a PDF in page order.
type PDFText struct {
	Pages int
	Text  string
}

// ExtractText concatenates the plain text of every page in document order.
// Pages that fail to decode are skipped; a document without any text is ErrNoText.
func (s *PDFService) ExtractText(data []byte) (result PDFText, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFText{}, fmt.Errorf("%w: %w", ErrUnreadablePDF, err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return PDFText{}, fmt.Errorf("%w: no pages", ErrUnreadablePDF)
	}

	var builder strings.Builder
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
	}

	result = PDFText{Pages: numPages, Text: builder.String()}
	if strings.TrimSpace(result.Text) == "" {
		return result, ErrNoText
	}
	return result, nil
}
