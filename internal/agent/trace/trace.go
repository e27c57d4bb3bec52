// Package trace records the ordered planning and tool-invocation log of one
// decision run.
package trace

import "sync"

// Step labels a trace entry.
type Step string

const (
	StepPlan       Step = "Plan"
	StepToolCall   Step = "Tool Call"
	StepToolError  Step = "Tool Error"
	StepToolResult Step = "Tool Result"
)

// Entry is one append-only trace line.
type Entry struct {
	Step   Step   `json:"step"`
	Detail string `json:"detail"`
}

// Trace is an append-only log. Entries are never removed or reordered.
type Trace struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Trace {
	return &Trace{}
}

func (t *Trace) Append(step Step, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Step: step, Detail: detail})
}

// Entries returns a copy of the log.
func (t *Trace) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Count returns how many entries carry step.
func (t *Trace) Count(step Step) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.Step == step {
			n++
		}
	}
	return n
}
