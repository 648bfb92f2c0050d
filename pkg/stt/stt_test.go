package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-voicebot/internal/log"
)

func TestClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		if got := r.FormValue("model"); got != "large-v3" {
			t.Errorf("model = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "capture.wav" || string(data) != "RIFFdata" {
			t.Errorf("file %q = %q", hdr.Filename, data)
		}
		w.Write([]byte(`{"text":"  hello there  "}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL+"/"), WithAPIKey("key"), WithModel("large-v3"), WithLogger(log.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Transcribe(context.Background(), "capture.wav", []byte("RIFFdata"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello there" {
		t.Errorf("text = %q", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL), WithRetry(1, time.Millisecond), WithLogger(log.Nop()))
	got, err := c.Transcribe(context.Background(), "a.wav", []byte{1})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d", hits.Load())
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad file", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(WithBaseURL(srv.URL), WithLogger(log.Nop()))
	_, err := c.Transcribe(context.Background(), "a.wav", []byte{1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "bad file" {
		t.Errorf("err = %v", err)
	}

	if _, err := c.Transcribe(context.Background(), "a.wav", nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
	if _, err := NewClient(); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestCleaner(t *testing.T) {
	c := NewCleaner(map[string]string{"burger": "Berger"}, DefaultIgnore)

	tests := []struct {
		in, want string
	}{
		{"hey  BURGER,\n how are you", "hey Berger, how are you"},
		{"hamburgers are great", "hamburgers are great"},
		{"  spaced   out ", "spaced out"},
	}
	for _, tt := range tests {
		if got := c.Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for text, want := range map[string]bool{
		"Thank you.":            true,
		"Okay. Bye.":            true,
		"thank you for helping": false,
		"":                      true,
		"what time is it":       false,
	} {
		if got := c.Ignore(text); got != want {
			t.Errorf("Ignore(%q) = %v, want %v", text, got, want)
		}
	}
}
