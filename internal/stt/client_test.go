package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTranscribe(t *testing.T) {
	wav := []byte("RIFFxxxxWAVEfake-audio")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("content-type=%s", ct)
		}
		if lang := r.URL.Query().Get("language"); lang != "en" {
			t.Errorf("language=%q", lang)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(wav) {
			t.Error("body does not match wav payload")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"  hello there  "}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Language: "en", Timeout: time.Second}, nil)
	text, err := c.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text=%q", text)
	}
}

func TestTranscribeEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":""}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, nil)
	text, err := c.Transcribe(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("empty transcription should not error: %v", err)
	}
	if text != "" {
		t.Fatalf("text=%q, want empty", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, nil)
	if _, err := c.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	c := New(Config{}, nil)
	if _, err := c.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error without endpoint")
	}
}
