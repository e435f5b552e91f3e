package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/whistler"
	"github.com/wippyai/whistler/runtime"
	"github.com/wippyai/whistler/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type focus int

const (
	focusInstruments focus = iota
	focusSemitones
	focusVolume
	focusCount
)

type interactiveModel struct {
	err         error
	rt          *runtime.Runtime
	events      chan session.Event
	opts        options
	instruments []runtime.InstrumentInfo
	semitones   textinput.Model
	volume      textinput.Model
	status      string
	result      string
	selected    int
	focus       focus
	loaded      bool
	busy        bool
}

type loadedMsg struct {
	err         error
	instruments []runtime.InstrumentInfo
}

type eventMsg session.Event

type processedMsg struct {
	err    error
	result string
	state  session.State
}

func newInteractiveModel(opts options) *interactiveModel {
	semitones := textinput.New()
	semitones.Prompt = "Semitones: "
	semitones.Placeholder = "0"
	semitones.SetValue(strconv.Itoa(opts.semitones))
	semitones.Width = 10

	volume := textinput.New()
	volume.Prompt = "Volume %:  "
	volume.Placeholder = "100"
	volume.SetValue(strconv.FormatFloat(opts.volume, 'f', -1, 64))
	volume.Width = 10

	return &interactiveModel{
		opts:      opts,
		events:    make(chan session.Event, 16),
		semitones: semitones,
		volume:    volume,
		status:    "loading engine",
	}
}

// observe forwards session events to the UI without blocking the run. Events
// are dropped when the UI falls behind; processedMsg carries the final state.
func (m *interactiveModel) observe(ev session.Event) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *interactiveModel) waitForEvent() tea.Msg {
	return eventMsg(<-m.events)
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.load, m.waitForEvent)
}

func (m *interactiveModel) load() tea.Msg {
	ctx := context.Background()

	wasm, err := os.ReadFile(m.opts.enginePath)
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := m.rt.LoadEngine(ctx, wasm); err != nil {
		return loadedMsg{err: err}
	}

	raw, err := os.ReadFile(m.opts.inputPath)
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := m.rt.LoadInput(ctx, raw); err != nil {
		return loadedMsg{err: err}
	}

	list, err := m.rt.Instruments(ctx)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{instruments: list}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.focus == focusInstruments || !m.loaded {
				return m, tea.Quit
			}

		case "up", "k":
			if m.focus == focusInstruments && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.focus == focusInstruments && m.selected < len(m.instruments)-1 {
				m.selected++
				return m, nil
			}

		case "tab":
			m.setFocus((m.focus + 1) % focusCount)
			return m, nil

		case "shift+tab":
			m.setFocus((m.focus + focusCount - 1) % focusCount)
			return m, nil

		case "enter":
			if !m.loaded || m.busy {
				return m, nil
			}
			req, err := m.request()
			if err != nil {
				m.err = err
				return m, nil
			}
			m.busy = true
			m.err = nil
			m.result = ""
			return m, m.process(req)
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "load failed"
			return m, nil
		}
		m.loaded = true
		m.instruments = msg.instruments
		m.status = m.rt.State().String()
		if inst, err := whistler.ParseInstrument(m.opts.instrument); err == nil {
			for i, info := range m.instruments {
				if info.Instrument == inst {
					m.selected = i
				}
			}
		}
		return m, nil

	case eventMsg:
		ev := session.Event(msg)
		// Stage events queued behind a finished run are stale.
		if m.busy || ev.State != session.Processing {
			m.status = describeEvent(ev)
		}
		return m, m.waitForEvent

	case processedMsg:
		m.busy = false
		m.err = msg.err
		m.result = msg.result
		m.status = msg.state.String()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusSemitones:
		m.semitones, cmd = m.semitones.Update(msg)
	case focusVolume:
		m.volume, cmd = m.volume.Update(msg)
	}
	return m, cmd
}

func (m *interactiveModel) setFocus(f focus) {
	m.focus = f
	m.semitones.Blur()
	m.volume.Blur()
	switch f {
	case focusSemitones:
		m.semitones.Focus()
	case focusVolume:
		m.volume.Focus()
	}
}

func (m *interactiveModel) request() (whistler.Request, error) {
	if len(m.instruments) == 0 {
		return whistler.Request{}, fmt.Errorf("no instruments available")
	}
	semitones, err := strconv.ParseInt(strings.TrimSpace(m.semitones.Value()), 10, 32)
	if err != nil {
		return whistler.Request{}, fmt.Errorf("semitones: %w", err)
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(m.volume.Value()), 64)
	if err != nil {
		return whistler.Request{}, fmt.Errorf("volume: %w", err)
	}
	return whistler.Request{
		Instrument: m.instruments[m.selected].Instrument,
		Semitones:  int32(semitones),
		Volume:     volumeFromPercent(pct),
	}, nil
}

func (m *interactiveModel) process(req whistler.Request) tea.Cmd {
	return func() tea.Msg {
		msg := m.runRequest(req)
		msg.state = m.rt.State()
		return msg
	}
}

func (m *interactiveModel) runRequest(req whistler.Request) processedMsg {
	ctx := context.Background()

	out, err := m.rt.RunProcessing(ctx, req)
	if err != nil {
		return processedMsg{err: err}
	}
	data, err := m.rt.ExportOutput()
	if err != nil {
		return processedMsg{err: err}
	}
	if err := os.WriteFile(m.opts.outputPath, data, 0o644); err != nil {
		return processedMsg{err: err}
	}
	return processedMsg{result: fmt.Sprintf("Wrote %s: %d samples at %d Hz",
		m.opts.outputPath, out.Len(), out.SampleRate())}
}

func describeEvent(ev session.Event) string {
	switch {
	case ev.Err != nil:
		return ev.State.String() + ": " + ev.Err.Error()
	case ev.Stage != "":
		return string(ev.Stage)
	default:
		return ev.State.String()
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Whistler"))
	b.WriteString(" ")
	b.WriteString(filepath.Base(m.opts.enginePath))
	b.WriteString(" ← ")
	b.WriteString(filepath.Base(m.opts.inputPath))
	b.WriteString("\n\n")

	if !m.loaded {
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", describe(m.err))))
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return b.String()
		}
		b.WriteString("Loading...")
		return b.String()
	}

	b.WriteString(labelStyle.Render("Instrument"))
	b.WriteString("\n")
	for i, info := range m.instruments {
		line := fmt.Sprintf("%d %s", info.Instrument, info.Name)
		if i == m.selected {
			if m.focus == focusInstruments {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("> " + line)
			}
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.semitones.View())
	b.WriteString("\n")
	b.WriteString(m.volume.View())
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Status: "))
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", describe(m.err))))
		b.WriteString("\n")
	} else if m.result != "" {
		b.WriteString(resultStyle.Render(m.result))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ instrument • tab next field • enter process • q quit"))
	return b.String()
}

func runInteractive(opts options) error {
	ctx := context.Background()

	m := newInteractiveModel(opts)
	cfg, err := opts.config(m.observe)
	if err != nil {
		return err
	}
	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	m.rt = rt

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
