package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/agent"
)

// echoTruncateBytes caps how much of a written file's content is echoed
// back in the tool result, to keep large writes from flooding the
// conversation transcript.
const echoTruncateBytes = 1024

// WriteTool implements atomic file writes within the workspace.
type WriteTool struct {
	resolver Resolver
	locks    *LockManager
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockManager(0)
	}
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}, locks: locks}
}

// Name returns the tool name.
func (t *WriteTool) Name() string {
	return "write"
}

// Description returns the tool description.
func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace (overwrites by default), atomically."
}

// Schema returns the JSON schema for the tool parameters.
func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents to write.",
			},
			"create_parents": map[string]interface{}{
				"type":        "boolean",
				"description": "Create missing parent directories (default: true).",
			},
		},
		"required": []string{"path", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute writes file contents atomically: the new content is written to a
// sibling temp file and renamed into place, so readers never observe a
// partially-written file.
func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path          string `json:"path"`
		Content       string `json:"content"`
		CreateParents *bool  `json:"create_parents"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
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

	createParents := input.CreateParents == nil || *input.CreateParents
	dir := filepath.Dir(resolved)
	if createParents {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return toolError(fmt.Sprintf("create directory: %v", err)), nil
		}
	}

	mode := os.FileMode(0o644)
	created := true
	if info, err := os.Stat(resolved); err == nil {
		mode = info.Mode()
		created = false
	}

	n, err := writeAtomic(dir, resolved, []byte(input.Content), mode)
	if err != nil {
		return toolError(err.Error()), nil
	}

	result := map[string]interface{}{
		"path":          input.Path,
		"content":       truncateEcho(input.Content),
		"bytes_written": n,
		"created":       created,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// writeAtomic writes data to a temp file alongside dest (so the rename is
// same-filesystem) and renames it into place, returning the number of
// bytes written.
func writeAtomic(dir, dest string, data []byte, mode os.FileMode) (int, error) {
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(dest), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename into place: %w", err)
	}

	return n, nil
}

func truncateEcho(content string) string {
	if len(content) <= echoTruncateBytes {
		return content
	}
	return fmt.Sprintf("%s... (truncated, %d bytes total)", content[:echoTruncateBytes], len(content))
}
