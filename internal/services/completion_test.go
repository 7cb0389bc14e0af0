package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stem-tutor/internal/logging"
)

func newTestCompletion(t *testing.T, handler http.HandlerFunc) (*CompletionService, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewCompletionService("test-key", "test-model", srv.URL+"/v1", logging.Discard()), &calls
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	svc, calls := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Light bends."},"finish_reason":"stop"}]}`))
	})

	text, err := svc.Complete(context.Background(), "Explain refraction", 5*time.Second)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "Light bends." {
		t.Fatalf("expected first choice content, got %q", text)
	}
	if *calls != 1 {
		t.Fatalf("expected 1 call, got %d", *calls)
	}
	if got.Model != "test-model" || len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Explain refraction" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestCompleteSurfacesStatusErrorWithoutRetry(t *testing.T) {
	svc, calls := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	})

	_, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompletionError, got %v", err)
	}
	if cerr.Kind != KindStatus || cerr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error %+v", cerr)
	}
	want := "⚠️ API Error: 500 Internal Server Error: model overloaded"
	if cerr.Error() != want {
		t.Fatalf("expected %q, got %q", want, cerr.Error())
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", *calls)
	}
}

func TestCompleteWithoutChoicesIsMalformed(t *testing.T) {
	svc, _ := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	_, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) || cerr.Kind != KindMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestCompleteTimesOut(t *testing.T) {
	svc, _ := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := svc.Complete(context.Background(), "hi", 50*time.Millisecond)
	var cerr *CompletionError
	if !errors.As(err, &cerr) || cerr.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCompleteWithoutKeyMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	svc := NewCompletionService("", "test-model", srv.URL, logging.Discard())
	_, err := svc.Complete(context.Background(), "hi", time.Second)
	if !errors.Is(err, ErrAIUnavailable) {
		t.Fatalf("expected ErrAIUnavailable, got %v", err)
	}
	if err.Error() != "⚠️ API key not found." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if calls != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}

func TestCompleteWithoutContentIsMalformed(t *testing.T) {
	svc, _ := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant"}}]}`))
	})

	text, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) || cerr.Kind != KindMalformed {
		t.Fatalf("expected malformed error, got text=%q err=%v", text, err)
	}
}

func TestCompleteNonJSONSuccessIsMalformed(t *testing.T) {
	svc, _ := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	})

	_, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) || cerr.Kind != KindMalformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if !strings.HasPrefix(cerr.Message, "⚠️ API Error:") {
		t.Fatalf("unexpected message %q", cerr.Message)
	}
}

func TestCompletePlainTextErrorKeepsBody(t *testing.T) {
	svc, calls := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	_, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) || cerr.Kind != KindStatus || cerr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status error, got %v", err)
	}
	want := "⚠️ API Error: 500 Internal Server Error: upstream exploded"
	if cerr.Message != want {
		t.Fatalf("expected %q, got %q", want, cerr.Message)
	}
	if *calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", *calls)
	}
}

func TestCompletePlainTextErrorBodyIsClipped(t *testing.T) {
	svc, _ := newTestCompletion(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	})

	_, err := svc.Complete(context.Background(), "hi", 5*time.Second)
	var cerr *CompletionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompletionError, got %v", err)
	}
	if n := len([]rune(cerr.Message)); n > maxErrorBody+64 {
		t.Fatalf("expected the body to be clipped, message has %d runes", n)
	}
	if !strings.HasSuffix(cerr.Message, "...") {
		t.Fatalf("expected a clipped marker, got %q", cerr.Message[len(cerr.Message)-10:])
	}
}

func TestCompleteWithoutModel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	svc := NewCompletionService("test-key", "", srv.URL, logging.Discard())
	_, err := svc.Complete(context.Background(), "hi", time.Second)
	if !errors.Is(err, ErrModelMissing) {
		t.Fatalf("expected ErrModelMissing, got %v", err)
	}
	if err.Error() == ErrAIUnavailable.Error() {
		t.Fatal("a missing model must not report a missing key")
	}
	if calls != 0 {
		t.Fatalf("expected no network call, got %d", calls)
	}
}
