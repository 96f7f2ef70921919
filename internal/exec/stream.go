package exec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/uuid"

	"github.com/mlld-lang/mlld/internal/logging"
)

// Chunk is one unit of live output produced while streaming a subprocess's
// stdout (§4.6: NDJSON-aware streaming, recognized-path extraction).
type Chunk struct {
	RequestID string
	Text      string
}

// recognizedPaths are tried in order against each decoded NDJSON line; the
// first that resolves to a non-empty string yields the chunk's text.
var recognizedPaths = []func(map[string]interface{}) (string, bool){
	func(m map[string]interface{}) (string, bool) { return firstContentField(m, "text") },
	func(m map[string]interface{}) (string, bool) { return firstContentField(m, "result") },
	func(m map[string]interface{}) (string, bool) { return dotted(m, "delta", "text") },
	func(m map[string]interface{}) (string, bool) { return single(m, "completion") },
	func(m map[string]interface{}) (string, bool) { return dotted(m, "error", "message") },
}

func firstContentField(m map[string]interface{}, field string) (string, bool) {
	msg, ok := m["message"].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := msg["content"].([]interface{})
	if !ok || len(content) == 0 {
		return "", false
	}
	first, ok := content[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := first[field].(string)
	return v, ok
}

func dotted(m map[string]interface{}, outer, inner string) (string, bool) {
	o, ok := m[outer].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := o[inner].(string)
	return v, ok
}

func single(m map[string]interface{}, field string) (string, bool) {
	v, ok := m[field].(string)
	return v, ok
}

// classifyBlockType extracts message.content[].type, used to route
// "thinking"/"tool_use"/"tool_result" blocks to stderr markers instead of
// the chunk channel.
func classifyBlockType(m map[string]interface{}) (string, bool) {
	msg, ok := m["message"].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := msg["content"].([]interface{})
	if !ok || len(content) == 0 {
		return "", false
	}
	first, ok := content[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	t, ok := first["type"].(string)
	return t, ok
}

// StreamExecute runs cmd via the system shell and streams NDJSON-aware
// chunks line by line, deduping consecutive identical chunks. Thinking
// blocks are written to stderr with a 💭 marker, tool-use with 🔧,
// tool-result suppressed unless debug is enabled.
func StreamExecute(ctx context.Context, cmd string, stderr io.Writer, logger *logging.Logger, debug bool) (<-chan Chunk, <-chan error) {
	if logger == nil {
		logger = logging.Discard()
	}
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		c := exec.CommandContext(ctx, "sh", "-c", cmd)
		stdout, err := c.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := c.Start(); err != nil {
			errs <- err
			return
		}

		requestID := uuid.NewString()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var last string
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(line), &decoded); err != nil {
				// Not NDJSON; treat the raw line as a text chunk.
				emit(chunks, &last, Chunk{RequestID: requestID, Text: line})
				continue
			}

			if blockType, ok := classifyBlockType(decoded); ok {
				switch blockType {
				case "thinking":
					fmt.Fprintf(stderr, "💭 %s\n", line)
					continue
				case "tool_use":
					fmt.Fprintf(stderr, "🔧 %s\n", line)
					continue
				case "tool_result":
					if debug {
						fmt.Fprintf(stderr, "%s\n", line)
					}
					continue
				}
			}

			for _, match := range recognizedPaths {
				if text, ok := match(decoded); ok && text != "" {
					emit(chunks, &last, Chunk{RequestID: requestID, Text: text})
					break
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
		}
		if err := c.Wait(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func emit(ch chan<- Chunk, last *string, c Chunk) {
	if c.Text == *last {
		return
	}
	*last = c.Text
	ch <- c
}
