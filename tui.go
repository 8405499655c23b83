//go:build !gui

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/narrate"
	"github.com/jamborta/readaloud/internal/render"
)

var (
	highlightStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	playingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Padding(0, 1)
)

const (
	pageCharsStep = 300
	minPageChars  = 300
)

type keyMap struct {
	Toggle   key.Binding
	Next     key.Binding
	Prev     key.Binding
	Bigger   key.Binding
	Smaller  key.Binding
	Generate key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Prev, k.Next, k.Generate, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Prev, k.Next},
		{k.Bigger, k.Smaller, k.Generate},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Toggle:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	Next:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "next page")),
	Prev:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "prev page")),
	Bigger:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "longer pages")),
	Smaller:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "shorter pages")),
	Generate: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "generate chapter audio")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "Q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Messages sent from the narration controller.
type (
	stateMsg     narrate.State
	highlightMsg struct {
		page  *extract.Page
		index int
	}
	noticeMsg      struct{ err error }
	pageMsg        struct{ page *extract.Page }
	relocatedMsg   struct{}
	genProgressMsg narrate.Progress
	genDoneMsg     struct{ err error }
)

// teaSink forwards controller callbacks to the running program.
type teaSink struct {
	p atomic.Pointer[tea.Program]
}

func (s *teaSink) send(msg tea.Msg) {
	if p := s.p.Load(); p != nil {
		p.Send(msg)
	}
}

func (s *teaSink) StateChanged(st narrate.State) { s.send(stateMsg(st)) }

func (s *teaSink) Highlight(page *extract.Page, i int) { s.send(highlightMsg{page: page, index: i}) }

func (s *teaSink) Notify(err error) { s.send(noticeMsg{err: err}) }

type model struct {
	ctx  context.Context
	s    *session
	sink *teaSink

	state      narrate.State
	page       *extract.Page
	current    int
	notice     string
	generating bool
	generated  narrate.Progress

	bar  progress.Model
	help help.Model

	quitting bool
	width    int
	height   int
}

func newModel(ctx context.Context, s *session, sink *teaSink) model {
	return model{
		ctx:     ctx,
		s:       s,
		sink:    sink,
		current: -1,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:    help.New(),
	}
}

// extractPage reads the visible page for display.
func (m model) extractPage() tea.Cmd {
	return func() tea.Msg {
		page, err := m.s.extractor.Extract(m.ctx)
		if err != nil {
			return noticeMsg{err: err}
		}
		return pageMsg{page: page}
	}
}

func (m model) generate() tea.Cmd {
	return func() tea.Msg {
		err := m.s.ctrl.GenerateChapterAudio(m.ctx, func(p narrate.Progress) {
			m.sink.send(genProgressMsg(p))
		})
		return genDoneMsg{err: err}
	}
}

func (m model) Init() tea.Cmd {
	return m.extractPage()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Toggle):
			m.notice = ""
			m.s.ctrl.Toggle()
			return m, nil

		case key.Matches(msg, keys.Next):
			m.s.ctrl.Turn(true)
			return m, nil

		case key.Matches(msg, keys.Prev):
			m.s.ctrl.Turn(false)
			return m, nil

		case key.Matches(msg, keys.Bigger):
			m.s.ctrl.Pause()
			m.s.engine.SetPageChars(m.s.engine.PageChars() + pageCharsStep)
			return m, nil

		case key.Matches(msg, keys.Smaller):
			if n := m.s.engine.PageChars() - pageCharsStep; n >= minPageChars {
				m.s.ctrl.Pause()
				m.s.engine.SetPageChars(n)
			}
			return m, nil

		case key.Matches(msg, keys.Generate):
			if m.generating {
				return m, nil
			}
			m.generating = true
			m.generated = narrate.Progress{}
			m.notice = ""
			return m, m.generate()

		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil

		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-4, 10)
		m.help.Width = msg.Width
		return m, nil

	case stateMsg:
		m.state = narrate.State(msg)
		if m.state == narrate.Idle {
			m.current = -1
		}
		return m, nil

	case highlightMsg:
		m.page = msg.page
		m.current = msg.index
		return m, nil

	case relocatedMsg:
		m.current = -1
		return m, m.extractPage()

	case pageMsg:
		if m.state != narrate.Playing {
			m.page = msg.page
		}
		return m, nil

	case noticeMsg:
		m.notice = notice(msg.err)
		return m, nil

	case genProgressMsg:
		m.generated = narrate.Progress(msg)
		return m, nil

	case genDoneMsg:
		m.generating = false
		switch {
		case msg.err == nil:
			m.notice = fmt.Sprintf("Generated audio for %d chunks", m.generated.Total)
		case errors.Is(msg.err, narrate.ErrBusy):
			m.notice = "Pause narration before generating chapter audio"
		default:
			m.notice = notice(msg.err)
		}
		return m, nil
	}

	return m, nil
}

func (m model) status() string {
	st := pausedStyle.Render(" [" + strings.ToUpper(m.state.String()) + "]")
	if m.state == narrate.Playing {
		st = playingStyle.Render(" [PLAYING]")
	}
	if m.page == nil {
		return statusStyle.Render(m.s.doc.Title) + st
	}
	loc := m.page.Location
	return statusStyle.Render(fmt.Sprintf("%s | %s | Page %d/%d",
		m.s.doc.Title,
		m.s.chapterTitle(loc.Chapter),
		loc.Page+1,
		loc.Pages,
	)) + st
}

// body renders the page text with the chunk being read highlighted.
func (m model) body() string {
	if m.page.Empty() {
		return statusStyle.Render("(nothing to read on this page)")
	}
	parts := make([]string, len(m.page.Chunks))
	for i, c := range m.page.Chunks {
		if i == m.current {
			parts[i] = highlightStyle.Render(c.Text)
		} else {
			parts[i] = textStyle.Render(c.Text)
		}
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return lipgloss.NewStyle().Width(width).Padding(0, 2).Render(strings.Join(parts, " "))
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.status())
	sb.WriteString("\n\n")
	sb.WriteString(m.body())
	sb.WriteString("\n\n")

	if m.page != nil && m.page.Location.Pages > 0 {
		loc := m.page.Location
		sb.WriteString("  " + m.bar.ViewAs(float64(loc.Page+1)/float64(loc.Pages)))
		sb.WriteString("\n")
	}
	if m.generating {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("Generating chapter audio %d/%d", m.generated.Done, m.generated.Total)))
		sb.WriteString("\n  " + m.bar.ViewAs(m.generated.Fraction()) + "\n")
	}
	if m.notice != "" {
		sb.WriteString(noticeStyle.Render(m.notice))
		sb.WriteString("\n")
	}
	sb.WriteString(m.help.View(keys))
	return sb.String()
}

// runTUI narrates s in the terminal until the user quits, then saves the
// position.
func runTUI(ctx context.Context, s *session, sink *teaSink, fresh bool) error {
	m := newModel(ctx, s, sink)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	sink.p.Store(p)

	// Relocations also fire from inside Update, so never block on Send.
	cancel := s.engine.OnRelocated(func(render.Location) { go p.Send(relocatedMsg{}) })
	defer cancel()

	if err := s.run(ctx, fresh); err != nil {
		return err
	}

	_, runErr := p.Run()
	sink.p.Store(nil)

	closeCtx, done := context.WithTimeout(context.Background(), closeTimeout)
	defer done()
	if err := s.ctrl.Close(closeCtx); err != nil {
		s.log.WithError(err).Warn("saving position on exit failed")
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
