//go:build !gui

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/config"
	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/narrate"
	"github.com/jamborta/readaloud/internal/reader"
	"github.com/jamborta/readaloud/internal/render"
	"github.com/jamborta/readaloud/internal/speech"
	"github.com/jamborta/readaloud/internal/state"
)

// isolate points config and state lookups at empty temp directories.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeBook(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.txt")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("write book: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "readaloud dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConfigCommandMasksToken(t *testing.T) {
	isolate(t)
	t.Setenv("READALOUD_BACKEND_TOKEN", "s3cret")

	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "s3cret") {
		t.Error("token printed in clear")
	}
	if !strings.Contains(out, "page_chars: 1800") {
		t.Errorf("defaults missing from output:\n%s", out)
	}
}

func TestPositionCommand(t *testing.T) {
	isolate(t)
	book := writeBook(t, "One sentence here. Another one there.")

	out, err := execute(t, "position", book)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !strings.Contains(out, "local:  none") || !strings.Contains(out, "resume: none") {
		t.Errorf("unexpected output:\n%s", out)
	}

	id, err := state.ComputeHash(book)
	if err != nil {
		t.Fatal(err)
	}
	store, err := state.NewStateStore()
	if err != nil {
		t.Fatal(err)
	}
	saved := state.Position{Kind: state.KindEPUB, BookID: id, ChapterIndex: 0, ChapterChunkIndex: 1, LastModifiedAt: time.Now()}
	if err := store.SetPosition(saved); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "position", book)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !strings.Contains(out, "resume: chapter 0, chunk 1") {
		t.Errorf("saved position not shown:\n%s", out)
	}

	if _, err := execute(t, "position", "--clear", book); err != nil {
		t.Fatalf("position --clear: %v", err)
	}
	store, _ = state.NewStateStore()
	if _, ok := store.Position(id); ok {
		t.Error("position still saved after --clear")
	}
}

func TestGenerateRejectsBadChapter(t *testing.T) {
	isolate(t)
	book := writeBook(t, "Only one chapter here.")

	_, err := execute(t, "generate", "--chapter", "3", book)
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("expected out of range error, got %v", err)
	}
}

func TestUsageCommand(t *testing.T) {
	isolate(t)
	store, err := state.NewStateStore()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddUsage(1234); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "usage")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out, "characters: 1234") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestParamsOverrides(t *testing.T) {
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSettings(state.Settings{VoiceID: "en-GB-Neural2-A", Speed: 1.25, Pitch: 2}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tts  config.TTS
		want speech.Params
	}{
		{"saved settings", config.TTS{}, speech.Params{VoiceID: "en-GB-Neural2-A", Speed: 1.25, Pitch: 2}},
		{"voice override", config.TTS{Voice: "en-US-Neural2-F"}, speech.Params{VoiceID: "en-US-Neural2-F", Speed: 1.25, Pitch: 2}},
		{"speed override", config.TTS{Speed: 2}, speech.Params{VoiceID: "en-GB-Neural2-A", Speed: 2, Pitch: 2}},
		{"clamped", config.TTS{Speed: 9, Pitch: -50}, speech.Params{VoiceID: "en-GB-Neural2-A", Speed: 4, Pitch: -20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{cfg: &config.Config{TTS: tt.tts}, store: store}
			if got := b.params(); got != tt.want {
				t.Errorf("params() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadDocument(t *testing.T) {
	book := writeBook(t, "First paragraph.\n\nSecond paragraph.")
	doc, id, err := loadDocument(book)
	if err != nil {
		t.Fatalf("loadDocument: %v", err)
	}
	want, _ := state.ComputeHash(book)
	if id != want {
		t.Errorf("book id = %q, want %q", id, want)
	}
	if len(doc.Chapters) != 1 {
		t.Errorf("chapters = %d, want 1", len(doc.Chapters))
	}

	if _, _, err := loadDocument(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNotice(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: %w", narrate.ErrSessionExpired, speech.ErrUnauthorized), "Session expired"},
		{narrate.ErrCannotAdvance, "end of the book"},
		{narrate.ErrAdvanceExhausted, "following pages"},
		{narrate.ErrBlankPage, "Nothing to read"},
		{errors.New("boom"), "Error: boom"},
	}
	for _, tt := range tests {
		if got := notice(tt.err); !strings.Contains(got, tt.want) || (tt.want == "" && got != "") {
			t.Errorf("notice(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestDescribePosition(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		pos  *state.Position
		want string
	}{
		{"none", nil, "none"},
		{"chapter", &state.Position{Kind: state.KindEPUB, ChapterIndex: 2, ChapterChunkIndex: 7, LastModifiedAt: at}, "chapter 2, chunk 7"},
		{"paragraph", &state.Position{Kind: state.KindPDF, ParagraphIndex: 4, TotalParagraphs: 10, LastModifiedAt: at}, "paragraph 5 of 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describePosition(tt.pos); !strings.HasPrefix(got, tt.want) {
				t.Errorf("describePosition() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func testModel(t *testing.T) model {
	t.Helper()
	doc := reader.FromText("Alpha sentence one. Beta sentence two.")
	engine, err := render.NewPaginator(doc, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := &session{doc: doc, engine: engine}
	return newModel(context.Background(), s, &teaSink{})
}

func TestModelHighlightsCurrentChunk(t *testing.T) {
	m := testModel(t)
	page := &extract.Page{
		Location: render.Location{Chapter: 0, Page: 0, Pages: 1},
		Chunks:   []chunk.Chunk{{Text: "Alpha sentence one."}, {Text: "Beta sentence two."}},
		Resolved: true,
	}

	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	next, _ = next.Update(stateMsg(narrate.Playing))
	next, _ = next.Update(highlightMsg{page: page, index: 1})
	got := next.(model)

	if got.current != 1 || got.page != page {
		t.Fatalf("highlight not applied: current=%d", got.current)
	}
	view := got.View()
	for _, want := range []string{"Alpha sentence one.", "Beta sentence two.", "Page 1/1", "[PLAYING]"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	next, _ = got.Update(stateMsg(narrate.Idle))
	if next.(model).current != -1 {
		t.Error("highlight kept after stopping")
	}
}

func TestModelPageMessageIgnoredWhilePlaying(t *testing.T) {
	m := testModel(t)
	playing := &extract.Page{Chunks: []chunk.Chunk{{Text: "Being read."}}}
	other := &extract.Page{Chunks: []chunk.Chunk{{Text: "Somewhere else."}}}

	next, _ := m.Update(stateMsg(narrate.Playing))
	next, _ = next.Update(highlightMsg{page: playing, index: 0})
	next, _ = next.Update(pageMsg{page: other})
	if next.(model).page != playing {
		t.Error("display page replaced while playing")
	}

	next, _ = next.Update(stateMsg(narrate.Paused))
	next, _ = next.Update(pageMsg{page: other})
	if next.(model).page != other {
		t.Error("display page not updated while paused")
	}
}

func TestModelGenerationNotices(t *testing.T) {
	m := testModel(t)
	m.generating = true

	next, _ := m.Update(genProgressMsg(narrate.Progress{Done: 3, Total: 4}))
	if got := next.(model).generated; got.Done != 3 || got.Total != 4 {
		t.Errorf("progress = %+v", got)
	}
	next, _ = next.Update(genDoneMsg{err: narrate.ErrBusy})
	got := next.(model)
	if got.generating || !strings.Contains(got.notice, "Pause narration") {
		t.Errorf("unexpected state after busy: generating=%v notice=%q", got.generating, got.notice)
	}
}
