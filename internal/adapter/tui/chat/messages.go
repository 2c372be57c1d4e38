// Package chat implements the MindMuse terminal chat on Bubble Tea.
package chat

import "mindmuse/internal/domain"

// PartialMsg carries the cumulative text of the reply being streamed.
type PartialMsg struct {
	Text string
}

// FinalMsg carries the finished assistant reply of a turn.
type FinalMsg struct {
	Message domain.Message
}

// StateMsg reports a turn lifecycle transition.
type StateMsg struct {
	TurnID string
	State  domain.TurnState
}

// TurnDoneMsg signals that a submitted turn returned.
// Gen identifies the submission so completions of cancelled turns can be discarded.
type TurnDoneMsg struct {
	Err error
	Gen uint64
}

// NoteMsg is a line of feedback from a slash command.
type NoteMsg struct {
	Text    string
	IsError bool
}

// ResetMsg asks the model to clear the on-screen transcript.
type ResetMsg struct {
	Note string
}
