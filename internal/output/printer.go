package output

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const nameWidth = 30

// Container prefixes cycle through this palette, chosen by name.
var palette = []lipgloss.Color{
	lipgloss.Color("39"),
	lipgloss.Color("76"),
	lipgloss.Color("99"),
	lipgloss.Color("204"),
	lipgloss.Color("214"),
	lipgloss.Color("44"),
	lipgloss.Color("170"),
	lipgloss.Color("149"),
}

var separator = " | "

// Printer writes container logs to the terminal. Text output goes to
// stdout or stderr following the record's stream; JSON lines all go to
// stdout.
type Printer struct {
	mu     sync.Mutex
	format Format
	stdout io.Writer
	stderr io.Writer
	outR   *lipgloss.Renderer
	errR   *lipgloss.Renderer
	enc    *json.Encoder
}

func NewPrinter(stdout, stderr io.Writer, format Format, color ColorMode) (*Printer, error) {
	switch format {
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	p := &Printer{
		format: format,
		stdout: stdout,
		stderr: stderr,
		enc:    json.NewEncoder(stdout),
	}
	switch color {
	case ColorAuto:
		p.outR = lipgloss.NewRenderer(stdout)
		p.errR = lipgloss.NewRenderer(stderr)
	case ColorAlways:
		p.outR = lipgloss.NewRenderer(stdout, termenv.WithProfile(termenv.ANSI256))
		p.errR = lipgloss.NewRenderer(stderr, termenv.WithProfile(termenv.ANSI256))
		p.outR.SetColorProfile(termenv.ANSI256)
		p.errR.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		p.outR = lipgloss.NewRenderer(stdout, termenv.WithProfile(termenv.Ascii))
		p.errR = lipgloss.NewRenderer(stderr, termenv.WithProfile(termenv.Ascii))
		p.outR.SetColorProfile(termenv.Ascii)
		p.errR.SetColorProfile(termenv.Ascii)
	default:
		return nil, fmt.Errorf("unknown color mode %q", color)
	}
	return p, nil
}

func (p *Printer) Print(l domain.ContainerLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == FormatJSON {
		return p.enc.Encode(l)
	}

	w, r := p.stdout, p.outR
	if l.Stream == domain.StreamStderr {
		w, r = p.stderr, p.errR
	}
	_, err := io.WriteString(w, formatLine(r, l))
	return err
}

func formatLine(r *lipgloss.Renderer, l domain.ContainerLog) string {
	name := l.Container.DisplayName()
	prefix := r.NewStyle().Foreground(colorFor(name)).Render(fmt.Sprintf("%-*s", nameWidth, name))

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(r.NewStyle().Faint(true).Render(separator))
	if !l.Timestamp.IsZero() {
		sb.WriteString(l.Timestamp.Format(time.RFC3339Nano))
		sb.WriteByte(' ')
	}
	sb.WriteString(l.Message)
	sb.WriteByte('\n')
	return sb.String()
}

func colorFor(name string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}
