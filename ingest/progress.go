package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"
)

// ProgressEmitter receives pipeline events as a run advances. Implementations:
//
// - CLIEmitter: pretty-printed terminal output using pterm
// - JSONEmitter: structured JSON events, one per line
// - NullEmitter: discards everything (background jobs)
//
// The server wraps job progress checkpoints around whichever emitter the
// handler installs, so WebSocket clients see the same events.
type ProgressEmitter interface {
	// EmitStage announces a pipeline stage (discover, validate, process, report).
	EmitStage(stage string, message string)

	// EmitFile reports that one file is being processed.
	EmitFile(index, total int, name string)

	// EmitProgress reports a running count with optional metadata.
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete reports the final run summary.
	EmitComplete(summary map[string]interface{})

	// EmitError reports a per-stage failure that does not abort the run.
	EmitError(stage string, err error)

	// EmitInfo reports an informational message.
	EmitInfo(message string)
}

// ProgressEvent is the wire form of a progress event for JSON consumers.
type ProgressEvent struct {
	Type      string                 `json:"type"` // "stage", "file", "progress", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// CLIEmitter outputs pretty-printed progress to the terminal using pterm.
type CLIEmitter struct {
	verbosity int
}

// NewCLIEmitter creates a CLI progress emitter for terminal output.
func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity}
}

// EmitStage prints a stage announcement.
func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Printf("%s %s: %s\n", pterm.Cyan("→"), pterm.LightCyan(stage), message)
}

// EmitFile prints one-per-file progress.
func (e *CLIEmitter) EmitFile(index, total int, name string) {
	pterm.Printf("  [%d/%d] %s\n", index, total, name)
}

// EmitProgress prints a running count.
func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	if itemType, ok := metadata["type"].(string); ok {
		pterm.Printf("%s Processed %s %s\n", pterm.Green("✓"), pterm.Green(fmt.Sprintf("%d", count)), itemType)
	} else {
		pterm.Printf("%s Processed %s items\n", pterm.Green("✓"), pterm.Green(fmt.Sprintf("%d", count)))
	}
}

// EmitComplete prints the run summary.
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Success.Println("Ingestion complete")
	if e.verbosity >= 1 {
		for key, value := range summary {
			pterm.Printf("  %s: %v\n", key, value)
		}
	}
}

// EmitError prints a non-fatal error.
func (e *CLIEmitter) EmitError(stage string, err error) {
	pterm.Error.Printf("Error in %s: %v\n", stage, err)
}

// EmitInfo prints an informational message when verbose.
func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.Println(message)
	}
}

// JSONEmitter outputs structured JSON events, one object per line.
type JSONEmitter struct {
	encoder *json.Encoder
}

// NewJSONEmitter creates a JSON progress emitter writing to stdout.
func NewJSONEmitter() *JSONEmitter {
	return NewJSONEmitterTo(os.Stdout)
}

// NewJSONEmitterTo creates a JSON progress emitter writing to w.
func NewJSONEmitterTo(w io.Writer) *JSONEmitter {
	return &JSONEmitter{encoder: json.NewEncoder(w)}
}

func (e *JSONEmitter) emit(eventType string, data map[string]interface{}) {
	e.encoder.Encode(ProgressEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// EmitStage emits a stage event.
func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{
		"stage":   stage,
		"message": message,
	})
}

// EmitFile emits a per-file event.
func (e *JSONEmitter) EmitFile(index, total int, name string) {
	e.emit("file", map[string]interface{}{
		"index": index,
		"total": total,
		"name":  name,
	})
}

// EmitProgress emits a count event with metadata merged in.
func (e *JSONEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	data := map[string]interface{}{"count": count}
	for k, v := range metadata {
		data[k] = v
	}
	e.emit("progress", data)
}

// EmitComplete emits the run summary.
func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

// EmitError emits an error event.
func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
}

// EmitInfo emits an info event.
func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{
		"message": message,
	})
}

// NullEmitter discards all events. Background job handlers use it; their
// progress is checkpointed on the job row instead.
type NullEmitter struct{}

func (NullEmitter) EmitStage(string, string)                   {}
func (NullEmitter) EmitFile(int, int, string)                  {}
func (NullEmitter) EmitProgress(int, map[string]interface{})   {}
func (NullEmitter) EmitComplete(map[string]interface{})        {}
func (NullEmitter) EmitError(string, error)                    {}
func (NullEmitter) EmitInfo(string)                            {}
