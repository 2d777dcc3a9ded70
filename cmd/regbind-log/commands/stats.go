package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Bindings          map[string]*BindingStats
	Batches           BatchStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	RemoteAddr string
	Requests   int
	Failed     int
}

// BindingStats holds target I/O statistics for one binding, keyed by name.
type BindingStats struct {
	Reads     int
	Writes    int
	Failures  int
	TotalTime time.Duration
}

// BatchStats counts batcher round trips.
type BatchStats struct {
	Multi     int
	Single    int
	Registers int
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Bindings:          make(map[string]*BindingStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if event.RemoteAddr != "" && conn.RemoteAddr == "" {
			conn.RemoteAddr = event.RemoteAddr
		}
		if msg := event.Message; msg != nil {
			if msg.Type == log.MessageTypeRequest {
				conn.Requests++
			} else if msg.Status != nil && *msg.Status != wire.StatusSuccess {
				conn.Failed++
			}
		}
	}

	if ev := event.IO; ev != nil {
		name := event.Name
		if name == "" {
			name = shortenID(event.BindingID)
		}
		bs, ok := s.Bindings[name]
		if !ok {
			bs = &BindingStats{}
			s.Bindings[name] = bs
		}
		if ev.Kind == log.IOWrite {
			bs.Writes++
		} else {
			bs.Reads++
		}
		if ev.Err != "" {
			bs.Failures++
		}
		bs.TotalTime += ev.Duration
	}

	if b := event.Batch; b != nil {
		if b.Multi {
			s.Batches.Multi++
		} else {
			s.Batches.Single++
		}
		s.Batches.Registers += b.Count
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== regbind Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerBinding, log.LayerBatch} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryIO, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenID(c.id), c.stats.Events, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", c.stats.RemoteAddr)
			}
			if c.stats.Requests > 0 {
				fmt.Fprintf(w, "           Requests: %d (%d failed)\n", c.stats.Requests, c.stats.Failed)
			}
		}
	}

	if len(stats.Bindings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Bindings: %d\n", len(stats.Bindings))
		names := make([]string, 0, len(stats.Bindings))
		for name := range stats.Bindings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			bs := stats.Bindings[name]
			avg := time.Duration(0)
			if n := bs.Reads + bs.Writes; n > 0 {
				avg = bs.TotalTime / time.Duration(n)
			}
			fmt.Fprintf(w, "  %-20s %d reads, %d writes, %d failed, avg %s\n",
				name, bs.Reads, bs.Writes, bs.Failures, formatDuration(avg))
		}
	}

	if n := stats.Batches.Multi + stats.Batches.Single; n > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Batches: %d multi, %d single, %d registers\n",
			stats.Batches.Multi, stats.Batches.Single, stats.Batches.Registers)
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
