//go:build gui

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/jamborta/readaloud/internal/config"
	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/narrate"
	"github.com/jamborta/readaloud/internal/render"
)

// guiSink hands controller callbacks to the fyne main goroutine.
type guiSink struct {
	onState     func(narrate.State)
	onHighlight func(*extract.Page, int)
	onNotice    func(error)
}

func (s *guiSink) StateChanged(st narrate.State) {
	fyne.Do(func() { s.onState(st) })
}

func (s *guiSink) Highlight(page *extract.Page, i int) {
	fyne.Do(func() { s.onHighlight(page, i) })
}

func (s *guiSink) Notify(err error) {
	fyne.Do(func() { s.onNotice(err) })
}

// pageSegments renders the page with chunk current emphasised.
func pageSegments(page *extract.Page, current int) []widget.RichTextSegment {
	if page.Empty() {
		return []widget.RichTextSegment{&widget.TextSegment{
			Text:  "(nothing to read on this page)",
			Style: widget.RichTextStyleParagraph,
		}}
	}
	segs := make([]widget.RichTextSegment, 0, len(page.Chunks))
	for i, c := range page.Chunks {
		style := widget.RichTextStyleInline
		if i == current {
			style = widget.RichTextStyle{
				Inline:    true,
				ColorName: theme.ColorNamePrimary,
				TextStyle: fyne.TextStyle{Bold: true},
			}
		}
		segs = append(segs, &widget.TextSegment{Text: c.Text + " ", Style: style})
	}
	return segs
}

func main() {
	cfgPath := flag.String("c", "", "Config file")
	showVersion := flag.Bool("v", false, "Show version information")
	showVersionLong := flag.Bool("version", false, "Show version information")
	showTOC := flag.Bool("toc", false, "Show chapter list at startup")
	freshStart := flag.Bool("fresh", false, "Ignore saved reading position")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "readaloud - narrate books with synthesized speech\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  readaloud [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  readaloud book.epub            Narrate a book\n")
		fmt.Fprintf(os.Stderr, "  readaloud --toc book.epub      Show the chapter list at startup\n")
		fmt.Fprintf(os.Stderr, "  cat notes.txt | readaloud      Narrate text from stdin\n")
	}
	flag.Parse()

	if *showVersion || *showVersionLong {
		fmt.Printf("readaloud %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if err := runGUI(*cfgPath, flag.Arg(0), *showTOC, *freshStart); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runGUI(cfgPath, path string, showTOC, fresh bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.serveMetrics(ctx); err != nil {
		return err
	}

	sink := &guiSink{}
	s, err := openSession(ctx, b, path, sink)
	if err != nil {
		return err
	}

	a := app.New()
	w := a.NewWindow("readaloud - " + s.doc.Title)

	var (
		st      narrate.State
		page    *extract.Page
		current = -1
	)

	statusLabel := widget.NewLabel("")
	statusLabel.Alignment = fyne.TextAlignCenter
	noticeLabel := widget.NewLabel("")
	noticeLabel.Alignment = fyne.TextAlignCenter
	noticeLabel.Importance = widget.DangerImportance

	text := widget.NewRichText()
	text.Wrapping = fyne.TextWrapWord
	genBar := widget.NewProgressBar()
	genBar.Hide()

	controlsLabel := widget.NewLabel("SPACE: play/pause  ←/→: page  G: generate chapter audio  T: chapters  F: fullscreen  Q: quit")
	controlsLabel.Alignment = fyne.TextAlignCenter

	updateDisplay := func() {
		text.Segments = pageSegments(page, current)
		text.Refresh()

		label := strings.ToUpper(st.String())
		if page == nil {
			statusLabel.SetText(fmt.Sprintf("%s [%s]", s.doc.Title, label))
			return
		}
		loc := page.Location
		statusLabel.SetText(fmt.Sprintf("%s | %s | Page %d/%d [%s]",
			s.doc.Title, s.chapterTitle(loc.Chapter), loc.Page+1, loc.Pages, label))
	}

	showPage := func() {
		go func() {
			p, err := s.extractor.Extract(ctx)
			fyne.Do(func() {
				if err != nil {
					noticeLabel.SetText(notice(err))
					return
				}
				if st != narrate.Playing {
					page, current = p, -1
					updateDisplay()
				}
			})
		}()
	}

	sink.onState = func(next narrate.State) {
		st = next
		if st == narrate.Idle {
			current = -1
		}
		updateDisplay()
	}
	sink.onHighlight = func(p *extract.Page, i int) {
		page, current = p, i
		updateDisplay()
	}
	sink.onNotice = func(err error) {
		noticeLabel.SetText(notice(err))
	}

	// Relocations fire on the caller's goroutine, which may be the UI itself.
	cancelReloc := s.engine.OnRelocated(func(render.Location) { go fyne.Do(showPage) })
	defer cancelReloc()

	tocList := widget.NewList(
		func() int { return s.engine.ChapterCount() },
		func() fyne.CanvasObject { return widget.NewLabel("Title") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(s.chapterTitle(id))
		},
	)
	readingContent := container.NewBorder(
		container.NewVBox(statusLabel, noticeLabel),
		container.NewVBox(genBar, controlsLabel),
		nil, nil,
		container.NewVScroll(container.NewPadded(text)),
	)
	tocContainer := container.NewBorder(
		widget.NewLabel("Chapters"),
		widget.NewLabel("Click to jump • T to close"),
		nil, nil,
		tocList,
	)
	split := container.NewHSplit(tocContainer, readingContent)
	split.Offset = 0.25
	if !showTOC {
		tocContainer.Hide()
	}
	tocList.OnSelected = func(id widget.ListItemID) {
		s.ctrl.Pause()
		if err := s.engine.Display(ctx, render.Marker{Chapter: id}); err != nil {
			noticeLabel.SetText(notice(err))
		}
		tocList.UnselectAll()
	}

	generating := false
	generate := func() {
		if generating {
			return
		}
		generating = true
		genBar.SetValue(0)
		genBar.Show()
		noticeLabel.SetText("")
		go func() {
			err := s.ctrl.GenerateChapterAudio(ctx, func(p narrate.Progress) {
				fyne.Do(func() { genBar.SetValue(p.Fraction()) })
			})
			fyne.Do(func() {
				generating = false
				genBar.Hide()
				switch {
				case err == nil:
					noticeLabel.SetText("Chapter audio generated")
				case errors.Is(err, narrate.ErrBusy):
					noticeLabel.SetText("Pause narration before generating chapter audio")
				default:
					noticeLabel.SetText(notice(err))
				}
			})
		}()
	}

	quit := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.ctrl.Close(closeCtx); err != nil {
			log.WithError(err).Warn("saving position on exit failed")
		}
	}

	w.Canvas().SetOnTypedKey(func(key *fyne.KeyEvent) {
		switch key.Name {
		case fyne.KeySpace:
			noticeLabel.SetText("")
			s.ctrl.Toggle()
		case fyne.KeyLeft:
			s.ctrl.Turn(false)
		case fyne.KeyRight:
			s.ctrl.Turn(true)
		case fyne.KeyF:
			w.SetFullScreen(!w.FullScreen())
		case fyne.KeyQ:
			w.Close()
		}
	})
	w.Canvas().SetOnTypedRune(func(r rune) {
		switch r {
		case 't', 'T':
			if tocContainer.Visible() {
				tocContainer.Hide()
			} else {
				tocContainer.Show()
			}
			split.Refresh()
		case 'g', 'G':
			generate()
		}
	})

	w.SetOnClosed(quit)
	w.Resize(fyne.NewSize(900, 650))
	w.SetContent(split)

	if err := s.run(ctx, fresh); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		fyne.Do(a.Quit)
	}()
	updateDisplay()
	showPage()

	w.ShowAndRun()
	return nil
}
