package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// maxLineBytes bounds a single JSON record.
const maxLineBytes = 1024 * 1024

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Msg     string
	Source  string
	Attrs   map[string]any
	Raw     string
	IsValid bool
}

// ViewerConfig filters and styles `amanrag logs` output.
type ViewerConfig struct {
	Level      string
	Pattern    *regexp.Regexp
	RequestID  string
	NoColor    bool
	ShowSource bool
}

// Viewer reads, filters and formats log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
	minLvl slog.Level

	levelStyles map[string]lipgloss.Style
	sourceStyle lipgloss.Style
}

// NewViewer creates a viewer that prints to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{
		config: cfg,
		out:    out,
		minLvl: ParseLevel(cfg.Level),
		levelStyles: map[string]lipgloss.Style{
			"DEBUG": lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
			"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
			"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
			"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
		sourceStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	}
	return v
}

// Tail returns the last n matching entries across paths, oldest first.
// Unreadable files are skipped.
func (v *Viewer) Tail(paths []string, n int) ([]LogEntry, error) {
	var all []LogEntry
	var lastErr error
	for _, path := range paths {
		entries, err := v.tailFile(path, n)
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, entries...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (v *Viewer) tailFile(path string, n int) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	source := sourceFromPath(path)
	ring := NewRing[LogEntry](n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		entry := v.parse(scanner.Text(), source)
		if v.matches(entry) {
			ring.Add(entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring.Items(), nil
}

// Follow streams new matching entries from every path until ctx is done.
func (v *Viewer) Follow(ctx context.Context, paths []string, entries chan<- LogEntry) error {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		files = append(files, f)
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("failed to seek in %s: %w", p, err)
		}
	}

	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(f *os.File, source string) {
			defer wg.Done()
			v.follow(ctx, f, source, entries)
		}(f, sourceFromPath(paths[i]))
	}
	wg.Wait()
	return nil
}

func (v *Viewer) follow(ctx context.Context, f *os.File, source string, entries chan<- LogEntry) {
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err != nil {
				break
			}
			line := strings.TrimSuffix(partial, "\n")
			partial = ""
			if line == "" {
				continue
			}
			entry := v.parse(line, source)
			if !v.matches(entry) {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Print writes formatted entries to the output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Format renders one entry as "time LEVEL [source] msg k=v ...".
// Attributes are sorted by key.
func (v *Viewer) Format(e LogEntry) string {
	if !e.IsValid {
		return e.Raw
	}

	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.level(e.Level))
	b.WriteByte(' ')
	if v.config.ShowSource && e.Source != "" {
		label := "[" + e.Source + "]"
		if !v.config.NoColor {
			label = v.sourceStyle.Render(label)
		}
		b.WriteString(label)
		b.WriteByte(' ')
	}
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

func (v *Viewer) level(level string) string {
	name := strings.ToUpper(level)
	if name == "WARNING" {
		name = "WARN"
	}
	padded := fmt.Sprintf("%-5s", name)
	if v.config.NoColor {
		return padded
	}
	if style, ok := v.levelStyles[name]; ok {
		return style.Render(padded)
	}
	return padded
}

func (v *Viewer) parse(line, source string) LogEntry {
	entry := LogEntry{Raw: line, Source: source}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level, _ = data["level"].(string)
	entry.Msg, _ = data["msg"].(string)
	if s, ok := data["source"].(string); ok && s != "" {
		entry.Source = s
	}

	entry.Attrs = make(map[string]any, len(data))
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

func (v *Viewer) matches(e LogEntry) bool {
	if v.config.Level != "" && e.IsValid && ParseLevel(e.Level) < v.minLvl {
		return false
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(e.Raw) {
		return false
	}
	if v.config.RequestID != "" {
		id, _ := e.Attrs["request_id"].(string)
		if id != v.config.RequestID {
			return false
		}
	}
	return true
}

// Ring keeps the last n items added.
type Ring[T any] struct {
	limit int
	items []T
	next  int
}

// NewRing creates a ring of capacity n. n <= 0 keeps everything.
func NewRing[T any](n int) *Ring[T] {
	if n < 0 {
		n = 0
	}
	return &Ring[T]{limit: n}
}

// Add appends item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	if r.limit == 0 || len(r.items) < r.limit {
		r.items = append(r.items, item)
		return
	}
	r.items[r.next] = item
	r.next = (r.next + 1) % r.limit
}

// Items returns the kept items, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}
