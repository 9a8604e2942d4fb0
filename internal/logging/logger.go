package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger writes one access-log entry per request, as single-line JSON or a
// console format, to stdout or a file.
type Logger struct {
	format string
	mu     sync.Mutex
	out    io.Writer
}

type Entry struct {
	Timestamp   string `json:"timestamp"`
	RequestID   string `json:"request_id"`
	RemoteIP    string `json:"remote_ip"`
	Host        string `json:"host"`
	Method      string `json:"method"`
	URI         string `json:"uri"`
	Proto       string `json:"proto"`
	Status      int    `json:"status"`
	LatencyMS   int64  `json:"latency_ms"`
	Bytes       int64  `json:"bytes"`
	Route       string `json:"route"`
	Upstream    string `json:"upstream,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

func New(format string, output string) *Logger {
	out := io.Writer(os.Stdout)
	if output != "stdout" && output != "" {
		if f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			out = f
		}
	}
	return &Logger{format: format, out: out}
}

// NewWriter is used by tests to capture entries.
func NewWriter(format string, out io.Writer) *Logger {
	return &Logger{format: format, out: out}
}

func (l *Logger) Write(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == "json" {
		b, _ := json.Marshal(entry)
		fmt.Fprintln(l.out, string(b))
		return
	}
	fmt.Fprintf(l.out, "%s %s %s %s %s %d %dms %dB route=%s upstream=%s\n",
		entry.Timestamp, entry.RemoteIP, entry.Method, entry.URI, entry.Proto,
		entry.Status, entry.LatencyMS, entry.Bytes, entry.Route, entry.Upstream)
}
