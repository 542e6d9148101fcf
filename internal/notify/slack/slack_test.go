package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const msg = "Warning, patient with id: 0, need help"

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL, log.Nop()).Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["text"] != msg {
		t.Errorf("text = %v, want %q", got["text"], msg)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok || len(blocks) != 1 {
		t.Fatalf("blocks = %v, want one block", got["blocks"])
	}
	section := blocks[0].(map[string]any)
	text := section["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, msg) {
		t.Errorf("section text = %q, want it to contain the alert", text)
	}
}

func TestSend_EmptyWebhookIsNoop(t *testing.T) {
	t.Parallel()

	if err := New("", log.Nop()).Send(context.Background(), msg); err != nil {
		t.Fatalf("Send with empty webhook: %v", err)
	}
}

func TestSend_NilLogger(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL, nil).Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error for 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("error = %q, want status and body", err)
	}
}

func TestSend_BodyExcerptIsBounded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if n := strings.Count(err.Error(), "x"); n > 512 {
		t.Errorf("error carries %d body bytes, want at most 512", n)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := New(srv.URL, log.Nop()).Send(ctx, msg); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	p := buildPayload(msg)
	if p["text"] != msg {
		t.Errorf("text = %v", p["text"])
	}
	blocks := p["blocks"].([]map[string]any)
	if blocks[0]["type"] != "section" {
		t.Errorf("block type = %v, want section", blocks[0]["type"])
	}
}
