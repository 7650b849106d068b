package config

import "time"

type ToolsConfig struct {
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Notes     string              `yaml:"notes"`
	NotesFile string              `yaml:"notes_file"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Elevated  ElevatedConfig      `yaml:"elevated"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool, optionally scoped by channel.
type ToolPolicyRule struct {
	Tool     string   `yaml:"tool"`
	Action   string   `yaml:"action"`   // "allow" | "deny"
	Channels []string `yaml:"channels"` // optional channel filters
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations   int                   `yaml:"max_iterations"`
	Parallelism     int                   `yaml:"parallelism"`
	Timeout         time.Duration         `yaml:"timeout"`
	MaxAttempts     int                   `yaml:"max_attempts"`
	RetryBackoff    time.Duration         `yaml:"retry_backoff"`
	DisableEvents   bool                  `yaml:"disable_events"`
	MaxToolCalls    int                   `yaml:"max_tool_calls"`
	RequireApproval []string              `yaml:"require_approval"`
	Async           []string              `yaml:"async"`
	Approval        ApprovalConfig        `yaml:"approval"`
	ResultGuard     ToolResultGuardConfig `yaml:"result_guard"`
}

// ApprovalConfig controls tool approval behavior.
type ApprovalConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "messaging", "readonly", "full", "minimal".
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports patterns like "mcp:*", "read_*", "*" (all), and group references.
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	Denylist []string `yaml:"denylist"`

	// SafeBins are stdin-only tools that are safe to auto-allow.
	SafeBins []string `yaml:"safe_bins"`

	// AskFallback queues approval when UI is unavailable instead of denying.
	AskFallback *bool `yaml:"ask_fallback"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long approval requests remain valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolResultGuardConfig controls redaction of tool results before persistence.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

// ElevatedConfig controls elevated tool execution behavior and allowlists.
type ElevatedConfig struct {
	// Enabled gates elevated execution. When nil, elevated is disabled by default.
	Enabled *bool `yaml:"enabled"`

	// AllowFrom maps channel/provider to allowed sender identifiers.
	AllowFrom map[string][]string `yaml:"allow_from"`

	// Tools lists tool patterns that elevated-full can bypass approvals for.
	Tools []string `yaml:"tools"`
}
