package speech

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

func TestDisabledPassesMessagesThrough(t *testing.T) {
	in := []protocol.Message{{Text: "xin chào"}}
	out := Disabled{}.Attach(context.Background(), in, "")
	if len(out) != 1 || out[0].Text != "xin chào" || out[0].Audio != "" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestNewReturnsDisabledWhenOff(t *testing.T) {
	if _, ok := New(Config{Enabled: false, TTSURL: "http://x"}).(Disabled); !ok {
		t.Fatalf("expected Disabled when audio is off")
	}
	if _, ok := New(Config{Enabled: true}).(Disabled); !ok {
		t.Fatalf("expected Disabled when no TTS URL is set")
	}
}

func TestFileSynthesizerAttachesAudio(t *testing.T) {
	payload := []byte("fake-mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := NewFileSynthesizer(Config{Enabled: true, TTSURL: srv.URL, OutputDir: t.TempDir()})
	out := s.Attach(context.Background(), []protocol.Message{{Text: "đã tạo task"}}, "")

	want := base64.StdEncoding.EncodeToString(payload)
	if out[0].Audio != want {
		t.Fatalf("audio = %q, want %q", out[0].Audio, want)
	}
	// No lipsync command configured: cues absent, audio still attached.
	if out[0].Lipsync != nil {
		t.Fatalf("lipsync = %s, want none", out[0].Lipsync)
	}
}

func TestFileSynthesizerKeepsTextOnTTSFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewFileSynthesizer(Config{Enabled: true, TTSURL: srv.URL, OutputDir: t.TempDir()})
	out := s.Attach(context.Background(), []protocol.Message{{Text: "vẫn trả lời được"}}, "")

	if out[0].Text != "vẫn trả lời được" {
		t.Fatalf("text = %q", out[0].Text)
	}
	if out[0].Audio != "" {
		t.Fatalf("audio should be empty on failure, got %d bytes", len(out[0].Audio))
	}
}

func TestFileSynthesizerReusesNamedFiles(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("rendered-mp3"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewFileSynthesizer(Config{Enabled: true, TTSURL: srv.URL, OutputDir: dir})

	greetings := []protocol.Message{{Text: "Chào bạn!"}, {Text: "Hôm nay mình giúp gì được?"}}
	first := s.Attach(context.Background(), greetings, "intro")
	if calls != 2 {
		t.Fatalf("first pass made %d TTS calls, want 2", calls)
	}

	// Same prefix again: served from disk, TTS untouched.
	second := s.Attach(context.Background(), greetings, "intro")
	if calls != 2 {
		t.Fatalf("reuse pass made %d extra TTS calls", calls-2)
	}
	for i := range first {
		if second[i].Audio == "" || second[i].Audio != first[i].Audio {
			t.Fatalf("message %d: reused audio %q differs from rendered %q", i, second[i].Audio, first[i].Audio)
		}
	}

	// Seeded file wins over synthesis entirely.
	seeded := []byte("pre-rendered")
	if err := os.WriteFile(filepath.Join(dir, "greet_0.mp3"), seeded, 0o644); err != nil {
		t.Fatal(err)
	}
	out := s.Attach(context.Background(), []protocol.Message{{Text: "Chào bạn!"}}, "greet")
	if calls != 2 {
		t.Fatalf("seeded file still triggered TTS")
	}
	if want := base64.StdEncoding.EncodeToString(seeded); out[0].Audio != want {
		t.Fatalf("audio = %q, want seeded file contents", out[0].Audio)
	}
}

func TestFileSynthesizerRemovesUnnamedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewFileSynthesizer(Config{Enabled: true, TTSURL: srv.URL, OutputDir: dir})
	s.Attach(context.Background(), []protocol.Message{{Text: "tạm thời"}}, "")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("one-shot audio left %d files behind", len(entries))
	}
}

func TestFileSynthesizerSkipsEmptyText(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewFileSynthesizer(Config{Enabled: true, TTSURL: srv.URL, OutputDir: t.TempDir()})
	s.Attach(context.Background(), []protocol.Message{{Text: ""}}, "")
	if called {
		t.Fatalf("TTS must not be called for empty text")
	}
}
