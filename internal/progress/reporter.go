package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// Row is one retrieval as seen by the reporter.
type Row struct {
	Title        string
	Status       string
	ServerStatus string
	Snapshot     Snapshot
}

// Message is a notification shown once by the reporter.
type Message struct {
	ID   string
	Text string
}

// Source provides what the reporter renders on every tick.
type Source interface {
	Rows() []Row
	Messages() []Message
}

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// TitleWidth is the display width reserved for titles.
	// Default: 24
	TitleWidth int

	// Prefix starts every line.
	// Default: "[packfetch]"
	Prefix string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	source Source
	opts   Options

	mu        sync.Mutex
	startTime time.Time
	lastLines int
	seen      map[string]bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(source Source, opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.TitleWidth <= 0 {
		opts.TitleWidth = 24
	}
	if opts.Prefix == "" {
		opts.Prefix = "[packfetch]"
	}

	return &Reporter{
		source: source,
		opts:   opts,
		seen:   make(map[string]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()

	go r.updateLoop()
}

// Stop stops the reporter after printing a final frame.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.Render()
			fmt.Fprintf(r.opts.Output, "%s Total time: %s\n", r.opts.Prefix, formatDuration(time.Since(r.startTime)))
			return
		case <-ticker.C:
			r.Render()
		}
	}
}

// Render draws one frame: new notifications first, then one line per retrieval.
// The previous frame of retrieval lines is overwritten.
func (r *Reporter) Render() {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.opts.Output
	if r.lastLines > 0 {
		fmt.Fprintf(out, "\033[%dA\033[J", r.lastLines)
	}

	for _, msg := range r.source.Messages() {
		if r.seen[msg.ID] {
			continue
		}
		r.seen[msg.ID] = true
		fmt.Fprintf(out, "%s ! %s\n", r.opts.Prefix, msg.Text)
	}

	rows := r.source.Rows()
	for _, row := range rows {
		fmt.Fprintf(out, "%s %s\n", r.opts.Prefix, r.FormatRow(row))
	}
	r.lastLines = len(rows)
}

// FormatRow renders a single retrieval line without prefix.
func (r *Reporter) FormatRow(row Row) string {
	title := runewidth.Truncate(row.Title, r.opts.TitleWidth, "…")
	title = runewidth.FillRight(title, r.opts.TitleWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-12s ", title, row.Status)

	if row.ServerStatus != "" {
		b.WriteString(row.ServerStatus)
		return b.String()
	}

	s := row.Snapshot
	switch {
	case s.Known:
		fmt.Fprintf(&b, "%5.1f%% | %s / %s", s.Percent, formatBytes(s.Downloaded), formatBytes(s.Total))
	case s.Downloaded > 0:
		fmt.Fprintf(&b, "downloading... | %s downloaded", formatBytes(s.Downloaded))
	default:
		b.WriteString("0%")
	}

	if s.Speed > 0 && row.Status == "downloading" {
		fmt.Fprintf(&b, " | %s", FormatSpeed(s.Speed))
		if eta, ok := s.ETA(); ok {
			fmt.Fprintf(&b, " | ETA %s", formatDuration(eta))
		}
	}

	return b.String()
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatSpeed formats a throughput in bytes per second.
func FormatSpeed(bytesPerSecond float64) string {
	return formatBytes(int64(bytesPerSecond)) + "/s"
}

// ParseBytes parses a human-readable byte string (e.g., "256MiB", "32KB").
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
