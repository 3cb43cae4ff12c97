package processor

import (
	"fmt"
	"sync"
)

// RunState 流水线运行状态
type RunState string

const (
	StateSubmitted           RunState = "Submitted"
	StateClassified          RunState = "Classified"
	StateTextExtracted       RunState = "TextExtracted"
	StateWindowed            RunState = "Windowed"
	StateCompletionRequested RunState = "CompletionRequested"
	StateCompletionParsed    RunState = "CompletionParsed"
	StateNormalized          RunState = "Normalized"

	StateUnsupportedFormat           RunState = "UnsupportedFormat"
	StateDocumentCorrupted           RunState = "DocumentCorrupted"
	StateInsufficientText            RunState = "InsufficientText"
	StateCompletionServiceError      RunState = "CompletionServiceError"
	StateMalformedCompletionResponse RunState = "MalformedCompletionResponse"
	StateCancelled                   RunState = "Cancelled"
	StateFailed                      RunState = "Failed"
)

// 正常路径的顺序
var happyPath = []RunState{
	StateSubmitted,
	StateClassified,
	StateTextExtracted,
	StateWindowed,
	StateCompletionRequested,
	StateCompletionParsed,
	StateNormalized,
}

// failureFrom 每个错误状态只能从对应阶段进入
var failureFrom = map[RunState][]RunState{
	StateUnsupportedFormat:           {StateSubmitted},
	StateDocumentCorrupted:           {StateClassified},
	StateInsufficientText:            {StateClassified},
	StateCompletionServiceError:      {StateCompletionRequested},
	StateMalformedCompletionResponse: {StateCompletionRequested},
}

var stateByKind = map[ErrorKind]RunState{
	KindUnsupportedFormat:   StateUnsupportedFormat,
	KindDocumentCorrupted:   StateDocumentCorrupted,
	KindInsufficientText:    StateInsufficientText,
	KindCompletionService:   StateCompletionServiceError,
	KindMalformedCompletion: StateMalformedCompletionResponse,
	KindCancelled:           StateCancelled,
}

// Terminal 是否为终止状态
func (s RunState) Terminal() bool {
	return s == StateNormalized || s.Failed()
}

// Failed 是否为错误终止状态
func (s RunState) Failed() bool {
	switch s {
	case StateUnsupportedFormat, StateDocumentCorrupted, StateInsufficientText,
		StateCompletionServiceError, StateMalformedCompletionResponse, StateCancelled, StateFailed:
		return true
	}
	return false
}

// runTracker 保证状态只前进、不重入
type runTracker struct {
	mu      sync.Mutex
	history []RunState
}

func newRunTracker() *runTracker {
	return &runTracker{history: []RunState{StateSubmitted}}
}

func (t *runTracker) Current() RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history[len(t.history)-1]
}

// History 返回经过的状态副本
func (t *runTracker) History() []RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RunState, len(t.history))
	copy(out, t.history)
	return out
}

// Advance 只允许进入正常路径上的下一个状态
func (t *runTracker) Advance(next RunState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.history[len(t.history)-1]
	if cur.Terminal() {
		return fmt.Errorf("run already terminated in %s", cur)
	}
	for i, s := range happyPath[:len(happyPath)-1] {
		if s == cur && happyPath[i+1] == next {
			t.history = append(t.history, next)
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", cur, next)
}

// Fail 进入错误终止状态。Cancelled 与 Failed 可从任意非终止状态进入
func (t *runTracker) Fail(kind ErrorKind) RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.history[len(t.history)-1]
	if cur.Terminal() {
		return cur
	}
	next, ok := stateByKind[kind]
	if !ok {
		next = StateFailed
	}
	if allowed, restricted := failureFrom[next]; restricted && !containsState(allowed, cur) {
		next = StateFailed
	}
	t.history = append(t.history, next)
	return next
}

func containsState(states []RunState, s RunState) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}
