package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleOutput formats logs for human readability.
type ConsoleOutput struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool // Whether to use ANSI color codes
}

type ConsoleOutputOption func(*ConsoleOutput)

func WithColor(enabled bool) ConsoleOutputOption {
	return func(c *ConsoleOutput) {
		c.color = enabled
	}
}

func NewConsoleOutput(useStderr bool, opts ...ConsoleOutputOption) *ConsoleOutput {
	// Choose the appropriate writer based on useStderr flag
	writer := os.Stdout
	if useStderr {
		writer = os.Stderr
	}

	c := &ConsoleOutput{
		writer: writer,
		color:  true, // Enable colors by default
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Helper function to get ANSI color codes for different severity levels.
func getSeverityColor(s Severity) string {
	switch s {
	case DEBUG:
		return "\033[37m" // Gray
	case INFO:
		return "\033[32m" // Green
	case WARN:
		return "\033[33m" // Yellow
	case ERROR:
		return "\033[31m" // Red
	case FATAL:
		return "\033[35m" // Magenta
	default:
		return ""
	}
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	var result string
	for k, v := range fields {
		result += fmt.Sprintf("%s=%v ", k, v)
	}

	return result
}

func (o *ConsoleOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	timestamp := time.Unix(0, e.Time).Format("2006-01-02 15:04:05.000")

	var levelColor, resetColor string
	if o.color {
		levelColor = getSeverityColor(e.Severity)
		resetColor = "\033[0m"
	}

	// Format for easy reading
	basic := fmt.Sprintf("%s %s%-5s%s [%s:%d] %s",
		timestamp,
		levelColor,
		e.Severity,
		resetColor,
		e.File,
		e.Line,
		e.Message,
	)

	// Add scenario information if present
	if e.ScenarioID != "" {
		basic += fmt.Sprintf(" [scenario=%s]", e.ScenarioID)
	}
	if e.Generation >= 0 {
		basic += fmt.Sprintf(" [gen=%d]", e.Generation)
	}

	// Add structured fields if any exist
	if len(e.Fields) > 0 {
		basic += " " + formatFields(e.Fields)
	}

	_, err := fmt.Fprintln(o.writer, basic)
	return err
}

func (o *ConsoleOutput) Sync() error {
	if f, ok := o.writer.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

func (o *ConsoleOutput) Close() error {
	return o.Sync()
}

// FileOutput writes machine-readable JSON records, one per line.
type FileOutput struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{file: f}, nil
}

type jsonEntry struct {
	Time       string                 `json:"time"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	File       string                 `json:"file"`
	Line       int                    `json:"line"`
	ScenarioID string                 `json:"scenario_id,omitempty"`
	Generation *int                   `json:"generation,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

func (o *FileOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	je := jsonEntry{
		Time:       time.Unix(0, e.Time).UTC().Format(time.RFC3339Nano),
		Severity:   e.Severity.String(),
		Message:    e.Message,
		File:       e.File,
		Line:       e.Line,
		ScenarioID: e.ScenarioID,
		Fields:     e.Fields,
	}
	if e.Generation >= 0 {
		gen := e.Generation
		je.Generation = &gen
	}

	data, err := json.Marshal(je)
	if err != nil {
		return err
	}

	_, err = o.file.Write(append(data, '\n'))
	return err
}

func (o *FileOutput) Sync() error {
	return o.file.Sync()
}

func (o *FileOutput) Close() error {
	if err := o.file.Sync(); err != nil {
		return err
	}
	return o.file.Close()
}
