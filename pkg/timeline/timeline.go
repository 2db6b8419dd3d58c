// Package timeline folds the stream of granular progress frames emitted
// during a turn into a deduplicated, updatable sequence of renderable
// items. Items are appended on first sight and mutated in place when a
// completion frame with the same identifier arrives; merges never move an
// item.
package timeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentdial-dev/agentdial/pkg/wire"
)

// Kind identifies what a timeline item renders as.
type Kind string

const (
	KindUser            Kind = "user"
	KindAgent           Kind = "agent"
	KindThinking        Kind = "thinking"
	KindTool            Kind = "tool"
	KindAskUser         Kind = "ask_user"
	KindApproval        Kind = "approval"
	KindOnboard         Kind = "onboard"
	KindOnboardResolved Kind = "onboard_resolved"
	KindIntent          Kind = "intent"
	KindEval            Kind = "eval"
	KindCompact         Kind = "compact"
	KindToolBlocked     Kind = "tool_blocked"
	KindTurnsExhausted  Kind = "turns_exhausted"
)

// Status tracks the progress of mergeable items.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Item is one discrete renderable unit of the conversation timeline.
type Item struct {
	// ID is stable for the item's lifetime: server-derived where the
	// protocol provides one, otherwise a client-assigned counter.
	ID     string
	Kind   Kind
	Status Status

	// Text is the primary content: message text, question, tool result.
	Text string
	// Detail is secondary content: tool args, block reason, intent ack.
	Detail string

	ToolName string
	Images   []string

	DurationMS int64
	Tokens     int
	ContextPct float64

	// Passed is meaningful for eval items once Status is done.
	Passed bool

	BeforeTokens int
	AfterTokens  int

	TurnsUsed int
	MaxTurns  int

	// Placeholder marks the single optimistic item shown between turn
	// submission and the first real progress frame.
	Placeholder bool

	CreatedAt time.Time
}

// clone returns a deep copy of the item.
func (it *Item) clone() Item {
	out := *it
	if it.Images != nil {
		out.Images = make([]string, len(it.Images))
		copy(out.Images, it.Images)
	}
	return out
}

// Timeline is the owned, version-stamped item sequence for one
// conversation. External callers only ever see deep-copied snapshots.
// Safe for concurrent use.
type Timeline struct {
	mu        sync.RWMutex
	items     []*Item
	version   uint64
	nextLocal int
}

// New creates an empty timeline.
func New() *Timeline {
	return &Timeline{}
}

// Version returns the current mutation counter. Render loops can compare
// versions to skip redundant redraws.
func (t *Timeline) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Snapshot returns a deep copy of the item sequence in arrival order.
func (t *Timeline) Snapshot() []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Item, len(t.items))
	for i, it := range t.items {
		out[i] = it.clone()
	}
	return out
}

// Len returns the number of items.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Reset discards all items.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = nil
	t.version++
}

func (t *Timeline) localID() string {
	t.nextLocal++
	return fmt.Sprintf("local-%d", t.nextLocal)
}

// append adds an item; caller holds the lock.
func (t *Timeline) append(it *Item) {
	if it.ID == "" {
		it.ID = t.localID()
	}
	it.CreatedAt = time.Now()
	t.items = append(t.items, it)
	t.version++
}

// findRunning locates the most recent item with the given id still in
// StatusRunning; caller holds the lock.
func (t *Timeline) findRunning(id string) *Item {
	for i := len(t.items) - 1; i >= 0; i-- {
		if t.items[i].ID == id && t.items[i].Status == StatusRunning {
			return t.items[i]
		}
	}
	return nil
}

// evictPlaceholder removes the optimistic placeholder if present; caller
// holds the lock.
func (t *Timeline) evictPlaceholder() {
	for i, it := range t.items {
		if it.Placeholder {
			t.items = append(t.items[:i], t.items[i+1:]...)
			t.version++
			return
		}
	}
}

// AppendUser records the user's outgoing message.
func (t *Timeline) AppendUser(text string, images []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindUser, Text: text, Images: images})
}

// SetPlaceholder installs the single optimistic placeholder shown until the
// first real progress frame arrives. A pre-existing placeholder is replaced.
func (t *Timeline) SetPlaceholder() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictPlaceholder()
	t.append(&Item{Kind: KindThinking, Status: StatusRunning, Placeholder: true})
}

// RemovePlaceholder drops the optimistic placeholder if it is still live.
func (t *Timeline) RemovePlaceholder() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictPlaceholder()
}

// AppendAskUser records a question posed to the user.
func (t *Timeline) AppendAskUser(question string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindAskUser, Text: question})
}

// AppendApproval records a pending permission request.
func (t *Timeline) AppendApproval(action, tool, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindApproval, Text: action, ToolName: tool, Detail: description})
}

// AppendOnboard records an onboarding challenge.
func (t *Timeline) AppendOnboard(challenge, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindOnboard, Text: challenge, Detail: url})
}

// AppendOnboardResolved records the resolution of an onboarding challenge.
func (t *Timeline) AppendOnboardResolved(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindOnboardResolved, Text: message})
}

// AppendTurnsExhausted records a turn-budget-exhausted notice.
func (t *Timeline) AppendTurnsExhausted(turnsUsed, maxTurns int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(&Item{Kind: KindTurnsExhausted, TurnsUsed: turnsUsed, MaxTurns: maxTurns})
}

// AppendAgentFinal records the terminal result as an agent item, unless an
// identical agent item was already appended by a progress frame.
func (t *Timeline) AppendAgentFinal(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.items) - 1; i >= 0; i-- {
		if t.items[i].Kind == KindAgent {
			if t.items[i].Text == text {
				return
			}
			break
		}
	}
	t.append(&Item{Kind: KindAgent, Text: text})
}

// Apply folds one progress frame into the sequence. Frames that are not
// progress frames are ignored; the turn controller dispatches those itself.
func (t *Timeline) Apply(frame wire.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Any real progress frame ends the optimistic phase.
	t.evictPlaceholder()

	switch f := frame.(type) {
	case wire.ToolCall:
		id := f.CallID
		if id != "" {
			id = "tool:" + id
		}
		t.append(&Item{
			ID:       id,
			Kind:     KindTool,
			Status:   StatusRunning,
			ToolName: f.Name,
			Detail:   f.Args,
		})

	case wire.ToolResult:
		// Out-of-order or dropped start frames are silently ignored.
		it := t.findRunning("tool:" + f.CallID)
		if it == nil {
			return
		}
		it.Status = StatusDone
		if f.Status == "error" {
			it.Status = StatusError
		}
		it.Text = f.Result
		it.DurationMS = f.DurationMS
		t.version++

	case wire.LLMCall:
		t.append(&Item{
			ID:     "llm:" + f.Model,
			Kind:   KindThinking,
			Status: StatusRunning,
		})

	case wire.Thinking:
		t.append(&Item{
			ID:     "llm:" + f.Model,
			Kind:   KindThinking,
			Status: StatusRunning,
			Text:   f.Text,
		})

	case wire.LLMResult:
		it := t.findRunning("llm:" + f.Model)
		if it == nil {
			return
		}
		it.Status = StatusDone
		if f.Status == "error" {
			it.Status = StatusError
		}
		it.DurationMS = f.DurationMS
		it.Tokens = f.Tokens
		it.ContextPct = f.ContextPct
		t.version++

	case wire.Assistant:
		if f.Content == "" {
			return
		}
		id := f.ID
		if id != "" {
			id = "asst:" + id
		}
		t.append(&Item{ID: id, Kind: KindAgent, Text: f.Content})

	case wire.AgentImage:
		for i := len(t.items) - 1; i >= 0; i-- {
			if t.items[i].Kind == KindAgent {
				t.items[i].Images = append(t.items[i].Images, f.Image)
				t.version++
				return
			}
		}
		// No agent item yet: synthesize an empty one to hold the image.
		t.append(&Item{Kind: KindAgent, Images: []string{f.Image}})

	case wire.Intent:
		if f.Status == "analyzing" {
			t.append(&Item{
				ID:     "intent:" + f.ID,
				Kind:   KindIntent,
				Status: StatusRunning,
				Text:   f.Text,
			})
			return
		}
		it := t.findRunning("intent:" + f.ID)
		if it == nil {
			return
		}
		it.Status = StatusDone
		it.Detail = f.Text
		t.version++

	case wire.Eval:
		if f.Status == "evaluating" {
			t.append(&Item{
				ID:     "eval:" + f.ID,
				Kind:   KindEval,
				Status: StatusRunning,
				Text:   f.Summary,
			})
			return
		}
		it := t.findRunning("eval:" + f.ID)
		if it == nil {
			return
		}
		it.Status = StatusDone
		it.Passed = f.Passed
		it.Text = f.Summary
		t.version++

	case wire.Compact:
		if f.Status == "compacting" {
			t.append(&Item{
				ID:     "compact:" + f.ID,
				Kind:   KindCompact,
				Status: StatusRunning,
			})
			return
		}
		it := t.findRunning("compact:" + f.ID)
		if it == nil {
			return
		}
		it.Status = StatusDone
		it.BeforeTokens = f.BeforeTokens
		it.AfterTokens = f.AfterTokens
		t.version++

	case wire.ToolBlocked:
		// Always standalone; there is no start frame to merge into.
		t.append(&Item{Kind: KindToolBlocked, ToolName: f.Name, Text: f.Reason})
	}
}
