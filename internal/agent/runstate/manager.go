// Package runstate tracks the agent's current execution state (idle,
// thinking, executing a tool, responding, or errored) and broadcasts every
// transition to interested subscribers.
package runstate

import (
	"sync"
	"time"
)

// MaxTransitionHistory bounds the in-memory transition log kept per Manager.
const MaxTransitionHistory = 100

// subscriberBuffer is the channel capacity given to each Subscribe call.
const subscriberBuffer = 100

// Kind enumerates the states an agent run can be in.
type Kind string

const (
	KindIdle          Kind = "idle"
	KindThinking      Kind = "thinking"
	KindResponding    Kind = "responding"
	KindExecutingTool Kind = "executing_tool"
	KindError         Kind = "error"
)

// State is a tagged union over Kind, carrying only the payload fields that
// apply to that kind - the same shape as models.ToolEvent's Stage-plus-
// optional-fields idiom rather than a closed Rust-style enum.
type State struct {
	Kind Kind `json:"kind"`

	// Message carries the human-readable status for KindThinking.
	Message string `json:"message,omitempty"`

	// IsStreaming and StepInfo apply to KindResponding.
	IsStreaming bool   `json:"is_streaming,omitempty"`
	StepInfo    string `json:"step_info,omitempty"`

	// ToolCallID and ToolName apply to KindExecutingTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ErrorMessage and ErrorDetails apply to KindError.
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// Idle reports whether the state is KindIdle.
func (s State) Idle() bool { return s.Kind == KindIdle }

// Transition records a single state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is emitted on every subscriber channel when the manager's state
// changes.
type Event struct {
	Transition Transition `json:"transition"`
}

// Manager guards an agent's current State behind a reader-writer lock and
// fans out every transition to subscribers via buffered channels. Slow
// subscribers drop new events rather than block the writer, the same
// non-blocking-send idiom as agent.ChanSink.
type Manager struct {
	mu          sync.RWMutex
	current     State
	transitions []Transition

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	onTransition func(Transition)
}

// NewManager creates a Manager starting in KindIdle.
func NewManager() *Manager {
	return &Manager{
		current:     State{Kind: KindIdle},
		subscribers: make(map[int]chan Event),
	}
}

// OnTransition installs a callback invoked synchronously on every state
// change, in addition to the subscriber broadcast - used to wire transition
// counters into metrics without requiring every caller to run a consumer
// goroutine.
func (m *Manager) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// Subscribe registers a new event channel and returns it along with an
// unsubscribe function. The channel has capacity subscriberBuffer; once
// full, further events for that subscriber are dropped.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.subMu.Unlock()

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

func (m *Manager) broadcast(t Transition) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- Event{Transition: t}:
		default:
		}
	}
}

// Current returns a snapshot of the current state.
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transitions returns a copy of the recorded transition history.
func (m *Manager) Transitions() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// ClearTransitions discards the recorded transition history.
func (m *Manager) ClearTransitions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = nil
}

// setState performs the transition, recording history and firing callbacks.
// Must be called without m.mu held.
func (m *Manager) setState(next State, reason string) Transition {
	m.mu.Lock()
	transition := Transition{
		From:      m.current,
		To:        next,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	m.current = next
	m.transitions = append(m.transitions, transition)
	if overflow := len(m.transitions) - MaxTransitionHistory; overflow > 0 {
		m.transitions = m.transitions[overflow:]
	}
	onTransition := m.onTransition
	m.mu.Unlock()

	if onTransition != nil {
		onTransition(transition)
	}
	m.broadcast(transition)
	return transition
}

// SetIdle transitions to KindIdle.
func (m *Manager) SetIdle(reason string) {
	m.setState(State{Kind: KindIdle}, reason)
}

// SetThinking transitions to KindThinking with the given status message.
func (m *Manager) SetThinking(message string) {
	m.setState(State{Kind: KindThinking, Message: message}, message)
}

// SetResponding transitions to KindResponding.
func (m *Manager) SetResponding(streaming bool, stepInfo, reason string) {
	m.setState(State{Kind: KindResponding, IsStreaming: streaming, StepInfo: stepInfo}, reason)
}

// SetExecutingTool transitions to KindExecutingTool for the given call.
func (m *Manager) SetExecutingTool(toolCallID, toolName, reason string) {
	m.setState(State{Kind: KindExecutingTool, ToolCallID: toolCallID, ToolName: toolName}, reason)
}

// SetError transitions to KindError.
func (m *Manager) SetError(message, details, reason string) {
	m.setState(State{Kind: KindError, ErrorMessage: message, ErrorDetails: details}, reason)
}
