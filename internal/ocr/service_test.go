package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"stem-tutor/internal/logging"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000")

func newTestService(t *testing.T, handler http.HandlerFunc) (Service, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewService(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "vision-test", TimeoutSeconds: 5}, logging.Discard()), &calls
}

func TestExtractTextSendsDataURI(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	svc, calls := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  What is 6 x 7?\n"}}]}`))
	})

	// an empty mime type is sniffed from the bytes
	text, err := svc.ExtractText(context.Background(), pngBytes, "")
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if text != "What is 6 x 7?" {
		t.Fatalf("unexpected text %q", text)
	}
	if *calls != 1 {
		t.Fatalf("expected 1 call, got %d", *calls)
	}

	if got.Model != "vision-test" || len(got.Messages) != 1 || len(got.Messages[0].Content) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	parts := got.Messages[0].Content
	if parts[0].Type != "text" || parts[0].Text == "" {
		t.Fatalf("expected an instruction part first, got %+v", parts[0])
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	if parts[1].Type != "image_url" || parts[1].ImageURL.URL != want {
		t.Fatalf("unexpected image part %+v", parts[1])
	}
}

func TestExtractTextServiceErrorIsExplicit(t *testing.T) {
	svc, calls := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "vision backend down", http.StatusInternalServerError)
	})

	_, err := svc.ExtractText(context.Background(), pngBytes, "image/png")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", *calls)
	}
}

func TestExtractTextWithoutChoices(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := svc.ExtractText(context.Background(), pngBytes, "image/png")
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractTextEmptyImageMakesNoCall(t *testing.T) {
	svc, calls := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := svc.ExtractText(context.Background(), nil, "image/png"); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("expected no network call, got %d", *calls)
	}
}

func TestExtractTextNotConfigured(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	for name, cfg := range map[string]Config{
		"no key":   {BaseURL: srv.URL, Model: "vision-test"},
		"no model": {APIKey: "test-key", BaseURL: srv.URL},
	} {
		svc := NewService(cfg, logging.Discard())
		if _, err := svc.ExtractText(context.Background(), pngBytes, "image/png"); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("%s: expected ErrNotConfigured, got %v", name, err)
		}
	}
	if calls != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}
