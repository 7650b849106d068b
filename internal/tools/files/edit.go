package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// editContextLines is how many lines of surrounding context are shown
// around each edit in the generated unified diff.
const editContextLines = 3

// EditTool implements a single find/replace edit on a file, backed by the
// same atomic-rename and per-path locking primitives as WriteTool.
type EditTool struct {
	resolver Resolver
	locks    *LockManager
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockManager(0)
	}
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}, locks: locks}
}

// Name returns the tool name.
func (t *EditTool) Name() string {
	return "edit"
}

// Description returns the tool description.
func (t *EditTool) Description() string {
	return "Replace an exact text match in a file in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to find.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Text to replace it with.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring exactly one match (default: false).",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// AmbiguousMatchError is returned (as a tool-level error result, not a Go
// error) when old_string matches more than once and replace_all was not
// set, per the edit operation's ambiguity contract.
type AmbiguousMatchError struct {
	Count int
}

func (e AmbiguousMatchError) Error() string {
	return fmt.Sprintf("old_string matches %d times; pass replace_all=true or narrow the match", e.Count)
}

// Execute applies a single old_string/new_string edit.
func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.OldString == "" {
		return toolError("old_string is required"), nil
	}
	if input.OldString == input.NewString {
		return toolError("old_string and new_string are identical"), nil
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

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, input.OldString)
	if count == 0 {
		return toolError("old_string not found"), nil
	}
	if count > 1 && !input.ReplaceAll {
		return toolError(AmbiguousMatchError{Count: count}.Error()), nil
	}

	var updated string
	replacements := count
	if input.ReplaceAll {
		updated = strings.ReplaceAll(content, input.OldString, input.NewString)
	} else {
		updated = strings.Replace(content, input.OldString, input.NewString, 1)
		replacements = 1
	}

	diff := buildUnifiedDiff(input.Path, content, updated)
	oldContext, newContext := buildEditContext(content, updated, replacements)

	dir := filepath.Dir(resolved)
	mode := os.FileMode(0o644)
	if info, err := os.Stat(resolved); err == nil {
		mode = info.Mode()
	}
	if _, err := writeAtomic(dir, resolved, []byte(updated), mode); err != nil {
		return toolError(err.Error()), nil
	}

	summary := fmt.Sprintf("Replaced %d occurrence of the text", replacements)
	if replacements != 1 {
		summary = fmt.Sprintf("Replaced %d occurrences of the text", replacements)
	}

	result := map[string]interface{}{
		"path":         input.Path,
		"replacements": replacements,
		"summary":      summary,
		"unified_diff": diff,
		"old_context":  oldContext,
		"new_context":  newContext,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

// buildUnifiedDiff produces a minimal unified diff between before and
// after, using a single hunk per contiguous changed region with
// editContextLines of surrounding context — the inverse operation of
// ApplyPatchTool's parser, so the two are dual halves of one format.
func buildUnifiedDiff(path, before, after string) string {
	beforeLines := splitLines(before)
	afterLines := splitLines(after)

	prefix := commonPrefixLen(beforeLines, afterLines)
	suffix := commonSuffixLen(beforeLines[prefix:], afterLines[prefix:])

	oldChangeStart := prefix
	oldChangeEnd := len(beforeLines) - suffix
	newChangeStart := prefix
	newChangeEnd := len(afterLines) - suffix

	ctxStart := max(0, oldChangeStart-editContextLines)
	oldCtxEnd := min(len(beforeLines), oldChangeEnd+editContextLines)
	newCtxEnd := min(len(afterLines), newChangeEnd+editContextLines)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n",
		ctxStart+1, oldCtxEnd-ctxStart,
		ctxStart+1, newCtxEnd-ctxStart)

	for i := ctxStart; i < oldChangeStart; i++ {
		fmt.Fprintf(&b, " %s\n", beforeLines[i])
	}
	for i := oldChangeStart; i < oldChangeEnd; i++ {
		fmt.Fprintf(&b, "-%s\n", beforeLines[i])
	}
	for i := newChangeStart; i < newChangeEnd; i++ {
		fmt.Fprintf(&b, "+%s\n", afterLines[i])
	}
	for i := oldChangeEnd; i < oldCtxEnd; i++ {
		fmt.Fprintf(&b, " %s\n", beforeLines[i])
	}

	return b.String()
}

// buildEditContext returns the old_context/new_context snippets for an edit
// result: a ±editContextLines window around the single changed region when
// there was exactly one replacement, or the full before/after content
// otherwise, since a multi-replacement edit has no single region to center on.
func buildEditContext(before, after string, replacements int) (string, string) {
	if replacements != 1 {
		return before, after
	}

	beforeLines := splitLines(before)
	afterLines := splitLines(after)

	prefix := commonPrefixLen(beforeLines, afterLines)
	suffix := commonSuffixLen(beforeLines[prefix:], afterLines[prefix:])

	oldChangeEnd := len(beforeLines) - suffix
	newChangeEnd := len(afterLines) - suffix

	ctxStart := max(0, prefix-editContextLines)
	oldCtxEnd := min(len(beforeLines), oldChangeEnd+editContextLines)
	newCtxEnd := min(len(afterLines), newChangeEnd+editContextLines)

	return strings.Join(beforeLines[ctxStart:oldCtxEnd], "\n"),
		strings.Join(afterLines[ctxStart:newCtxEnd], "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func commonPrefixLen(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
