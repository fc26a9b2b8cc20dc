// Package tui is the terminal monitor of the rig: it shows the recent
// bit-bang signal history as one waveform row per pin, together with
// the sample trace and result of the last calculation.
package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"kleinert.net/mcprig/calc"
	"kleinert.net/mcprig/util"
)

const (
	monitorTitle = " MCP Rig Monitor "
	// maxResults bounds the kept result lines.
	maxResults = 50
)

// Lane names one pin of the waveform display.
type Lane struct {
	Num  int
	Name string
}

// Snapshot is one update for the monitor: the current signal history
// plus, optionally, the result of a finished calculation.
type Snapshot struct {
	History []byte
	Result  *calc.Result
	Label   string
}

// Monitor is the tview application. Snapshots arrive through a Latest
// slot so the synchronous protocol stack never blocks on the terminal.
type Monitor struct {
	lanes  []Lane
	latest *util.Latest[Snapshot]

	app     *tview.Application
	wave    *tview.TextView
	results *tview.TextView

	mu      sync.Mutex
	history *deque.Deque[string]

	runs  chan struct{}
	clear chan struct{}
	quit  chan struct{}
}

// New creates a monitor for the given waveform lanes.
func New(lanes []Lane) *Monitor {
	m := &Monitor{
		lanes:   lanes,
		latest:  util.NewLatest[Snapshot](),
		app:     tview.NewApplication(),
		history: new(deque.Deque[string]),
		runs:    make(chan struct{}, 1),
		clear:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	m.history.Grow(maxResults)
	return m
}

// Runs delivers one message per 'r' key press.
func (m *Monitor) Runs() <-chan struct{} { return m.runs }

// Clears delivers one message per 'c' key press.
func (m *Monitor) Clears() <-chan struct{} { return m.clear }

// Quit is closed when the user leaves the monitor.
func (m *Monitor) Quit() <-chan struct{} { return m.quit }

// Stop ends the TUI from outside, e.g. on an OS signal.
func (m *Monitor) Stop() {
	m.app.Stop()
}

// Update hands a new snapshot to the monitor. Safe for concurrent use;
// only the newest snapshot is rendered.
func (m *Monitor) Update(s Snapshot) {
	m.latest.Send(s)
}

// Start builds the UI and runs the tview application until Quit. It
// should be called as a goroutine; wg is released when the TUI has
// ended.
func (m *Monitor) Start(wg *sync.WaitGroup) {
	defer wg.Done()

	m.setupUI()

	go m.consume()

	if err := m.app.Run(); err != nil {
		slog.Error("Error running monitor TUI", "error", err)
	}
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	slog.Info("Monitor TUI has stopped")
}

func (m *Monitor) setupUI() {
	header := tview.NewTextView()
	header.SetBorder(true).SetTitle(monitorTitle).SetTitleColor(tcell.ColorLightBlue)
	header.SetDynamicColors(true)
	header.SetText("[blue]r[-] run again   [blue]c[-] clear outputs   [blue]q[-] quit")

	m.wave = tview.NewTextView()
	m.wave.SetBorder(true).SetTitle(" Signal history ")
	m.wave.SetDynamicColors(true)

	m.results = tview.NewTextView()
	m.results.SetBorder(true).SetTitle(" Samples ")
	m.results.SetDynamicColors(true)

	layout := tview.NewFlex()
	layout.SetDirection(tview.FlexRow)
	layout.AddItem(header, 3, 0, false)
	layout.AddItem(m.wave, len(m.lanes)+2, 0, false)
	layout.AddItem(m.results, 0, 1, false)

	m.app.SetRoot(layout, true)
	m.app.SetInputCapture(m.capture)
}

func (m *Monitor) capture(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'r':
		select {
		case m.runs <- struct{}{}:
		default:
		}
		return nil
	case 'c':
		select {
		case m.clear <- struct{}{}:
		default:
		}
		return nil
	case 'q':
		m.app.Stop()
		return nil
	}
	return event
}

// consume renders snapshots as they arrive.
func (m *Monitor) consume() {
	for {
		select {
		case <-m.quit:
			return
		case <-m.latest.Channel():
			snap := m.latest.Value()
			wave := m.renderWaveform(snap.History)
			trace := m.renderResult(snap)
			m.app.QueueUpdateDraw(func() {
				m.wave.SetText(wave)
				m.results.SetText(trace)
			})
		}
	}
}

// renderWaveform draws one H/L row per lane from the history bytes,
// oldest to the left.
func (m *Monitor) renderWaveform(history []byte) string {
	var buf strings.Builder
	for _, lane := range m.lanes {
		fmt.Fprintf(&buf, "%7s ", lane.Name)
		for _, b := range history {
			if (b>>uint(lane.Num))&1 != 0 {
				buf.WriteString("[green]▔[-]")
			} else {
				buf.WriteString("[grey]▁[-]")
			}
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func (m *Monitor) renderResult(snap Snapshot) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Result != nil {
		state := "[red]cap reached[-]"
		if snap.Result.Converged {
			state = "[green]converged[-]"
		}
		line := fmt.Sprintf("%s = [yellow]%d[-] (raw %#03x, %d samples, %s)",
			snap.Label, snap.Result.Value, snap.Result.Raw,
			len(snap.Result.Samples), state)
		if m.history.Len() >= maxResults {
			m.history.PopFront()
		}
		m.history.PushBack(line)

		var buf strings.Builder
		buf.WriteString(line)
		buf.WriteString("\n")
		for _, s := range snap.Result.Samples {
			fmt.Fprintf(&buf, "  %8s  %#03x (%d)\n", s.At, s.Value, s.Value)
		}
		buf.WriteString("\n")
		for i := m.history.Len() - 2; i >= 0; i-- {
			buf.WriteString(m.history.At(i))
			buf.WriteString("\n")
		}
		return buf.String()
	}

	var buf strings.Builder
	for i := m.history.Len() - 1; i >= 0; i-- {
		buf.WriteString(m.history.At(i))
		buf.WriteString("\n")
	}
	return buf.String()
}
