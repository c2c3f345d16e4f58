// Package cli provides terminal output for the relay command line tools
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// Color palette
var (
	ColorAccent  = lipgloss.Color("#7D56F4")
	ColorSuccess = lipgloss.Color("#38A169")
	ColorError   = lipgloss.Color("#E53E3E")
	ColorWarning = lipgloss.Color("#D69E2E")
	ColorSubtext = lipgloss.Color("#A0AEC0")
)

// Styles
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorAccent)
	SubtleStyle  = lipgloss.NewStyle().Foreground(ColorSubtext)

	typeStyles = map[signaling.Type]lipgloss.Style{
		signaling.TypeIncomingCall: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),
		signaling.TypeOffer:        lipgloss.NewStyle().Foreground(ColorSuccess),
		signaling.TypeAnswer:       lipgloss.NewStyle().Foreground(ColorSuccess),
		signaling.TypeICECandidate: SubtleStyle,
		signaling.TypeCallEnded:    lipgloss.NewStyle().Foreground(ColorError),
	}
)

// Printer writes status lines and signal tables. Styling is dropped when
// the writer is not a terminal.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: !isTerminal(w)}
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return style.Render(text)
}

// Success prints a success message
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(SuccessStyle, "✓"), fmt.Sprintf(format, args...))
}

// Error prints an error message
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(ErrorStyle, "✗"), fmt.Sprintf(format, args...))
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(WarningStyle, "⚠"), fmt.Sprintf(format, args...))
}

// Info prints an info message
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(InfoStyle, "ℹ"), fmt.Sprintf(format, args...))
}

// Messages prints signals as a table, oldest first.
func (p *Printer) Messages(msgs []signaling.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(p.w, p.render(SubtleStyle, "no pending signals"))
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFROM\tDATA")
	for _, m := range msgs {
		style, ok := typeStyles[m.Type]
		if !ok {
			style = SubtleStyle
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.render(style, string(m.Type)), m.From, Summarize(m.Data, 60))
	}
	tw.Flush()
}

// JSON prints v indented.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Summarize compacts a JSON payload onto one line, cut to max runes.
func Summarize(data json.RawMessage, max int) string {
	text := strings.Join(strings.Fields(string(data)), " ")
	if text == "" {
		return "-"
	}
	runes := []rune(text)
	if max > 3 && len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return text
}

// Spinner is a loading indicator for commands that wait on the relay.
type Spinner struct {
	frames  []string
	current int
	prefix  string
	mu      sync.Mutex
	p       *Printer
	active  bool
	done    chan struct{}
}

// NewSpinner creates a spinner writing through p.
func (p *Printer) NewSpinner(prefix string) *Spinner {
	return &Spinner{
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix: prefix,
		p:      p,
		done:   make(chan struct{}),
	}
}

// Start starts the spinner. Plain output gets a single status line.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	if s.p.plain {
		fmt.Fprintf(s.p.w, "%s...\n", s.prefix)
		return
	}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.p.w, "\r%s %s", s.p.render(InfoStyle, s.frames[s.current]), s.prefix)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop stops the spinner and clears its line
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.done)

	if !s.p.plain {
		fmt.Fprint(s.p.w, "\r"+strings.Repeat(" ", len(s.prefix)+4)+"\r")
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
