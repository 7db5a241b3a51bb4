// Package rollback provides a LIFO stack of teardown actions for
// multi-step bootstrap sequences: register each step's undo action as
// it succeeds, then either commit (discard the stack) once the whole
// sequence is up, or run it in reverse on any later failure.
package rollback

// Stack accumulates release actions in order and can unwind them.
type Stack struct {
	actions []func()
}

// Push appends a teardown action, run last-in-first-out by Unwind.
func (s *Stack) Push(action func()) {
	s.actions = append(s.actions, action)
}

// Unwind runs every pushed action in reverse order and clears the
// stack. Safe to call on an empty or already-unwound stack.
func (s *Stack) Unwind() {
	for i := len(s.actions) - 1; i >= 0; i-- {
		s.actions[i]()
	}
	s.actions = nil
}

// Commit discards the stack without running any action, for use once
// the bootstrap sequence has fully succeeded and ordinary shutdown
// (not rollback) owns the teardown from here on.
func (s *Stack) Commit() {
	s.actions = nil
}
