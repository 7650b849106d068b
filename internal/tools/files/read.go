package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
	Locks        *LockManager
}

// MaxReadLines caps how many lines a single read call may request, per the
// workspace read contract.
const MaxReadLines = 400

// perLineReadTimeout bounds how long a single line read inside the
// requested range may take before the read gives up on precision.
const perLineReadTimeout = 5 * time.Second

// perLineCountTimeout bounds the cheaper trailing pass that only counts
// remaining lines to report an (approximate) total.
const perLineCountTimeout = 1 * time.Second

// ReadTool implements a safe, line-ranged file reader.
type ReadTool struct {
	resolver Resolver
	locks    *LockManager
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockManager(0)
	}
	return &ReadTool{
		resolver: Resolver{Root: cfg.Workspace},
		locks:    locks,
	}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "read"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a range of lines from a file in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to workspace).",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "First line to read, 1-indexed (default: 1).",
				"minimum":     1,
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Last line to read, inclusive. The range may span at most %d lines.", MaxReadLines),
				"minimum":     1,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads a line range from a file, best-effort, within per-line
// timeouts. Lines requested beyond a timed-out read are reported as an
// approximate total rather than failing the call outright.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.StartLine <= 0 {
		input.StartLine = 1
	}
	if input.EndLine <= 0 {
		input.EndLine = input.StartLine + MaxReadLines - 1
	}
	if input.EndLine < input.StartLine {
		return toolError("end_line must be >= start_line"), nil
	}
	if input.EndLine-input.StartLine+1 > MaxReadLines {
		return toolError(fmt.Sprintf("requested range exceeds maximum of %d lines", MaxReadLines)), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	release, err := t.locks.Acquire(ctx, resolved)
	if err != nil {
		return toolError(fmt.Sprintf("acquire lock: %v", err)), nil
	}
	defer release()

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	lines, totalLines, approximate, err := readLineRange(file, input.StartLine, input.EndLine)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if input.StartLine > totalLines && !approximate {
		return toolError(fmt.Sprintf("start_line %d exceeds file length %d", input.StartLine, totalLines)), nil
	}

	result := map[string]interface{}{
		"path":               input.Path,
		"content":            strings.Join(lines, "\n"),
		"start_line":         input.StartLine,
		"end_line":           input.StartLine + len(lines) - 1,
		"lines_returned":     len(lines),
		"total_lines":        totalLines,
		"counts_approximate": approximate,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// readLineRange reads [start,end] (1-indexed, inclusive) from r, bounding
// each requested line by perLineReadTimeout and each trailing count-only
// line by the cheaper perLineCountTimeout. If the counting pass exhausts
// its budget before reaching EOF, the returned total is a lower bound and
// approximate is true.
func readLineRange(r *os.File, start, end int) (lines []string, total int, approximate bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNum := 0
	for {
		lineNum++
		ok, scanErr := scanLineWithTimeout(scanner, perLineReadTimeout)
		if scanErr != nil {
			return nil, lineNum - 1, false, scanErr
		}
		if !ok {
			total = lineNum - 1
			return lines, total, false, nil
		}
		if lineNum >= start && lineNum <= end {
			lines = append(lines, scanner.Text())
		}
		if lineNum == end {
			break
		}
	}

	// Trailing pass: count remaining lines without retaining content, on a
	// tighter per-line budget. Exhausting the budget yields an approximate
	// total rather than an error.
	total = lineNum
	for {
		ok, scanErr := scanLineWithTimeout(scanner, perLineCountTimeout)
		if scanErr != nil {
			slog.Warn("line counting timed out, using current count", "lines_counted", total)
			return lines, total, true, nil
		}
		if !ok {
			return lines, total, false, nil
		}
		total++
	}
}

// scanLineWithTimeout advances scanner by one line, giving up with an error
// if the read takes longer than timeout. Scanning is not itself
// cancellable mid-read, so the timeout only bounds how long the caller
// waits for the result, not the underlying syscall.
func scanLineWithTimeout(scanner *bufio.Scanner, timeout time.Duration) (bool, error) {
	done := make(chan bool, 1)
	go func() {
		done <- scanner.Scan()
	}()

	select {
	case ok := <-done:
		return ok, scanner.Err()
	case <-time.After(timeout):
		return false, fmt.Errorf("line read timed out after %s", timeout)
	}
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
