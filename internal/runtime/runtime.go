// Package runtime defines the narrow "execute and stream" boundary the
// core consumes (spec §6.3): herdctl treats the actual LLM-driving agent
// runtime as an opaque collaborator, responsible only for turning a
// prompt into a stream of messages.
package runtime

import (
	"context"

	"github.com/herdctl/herdctl/internal/domain"
)

// MessageType enumerates the kinds of message a Runtime can emit, mapped
// 1:1 onto domain.OutputRecordType by the executor.
type MessageType string

const (
	MessageSystem    MessageType = "system"
	MessageAssistant MessageType = "assistant"
	MessageUser      MessageType = "user"
	MessageTool      MessageType = "tool"
	MessageError     MessageType = "error"
	// MessageDone is a sentinel signaling successful stream completion; it
	// carries no output record of its own (spec §6.3 "reflects the final
	// signal (done or failure) into job status").
	MessageDone MessageType = "done"
)

// Message is one item in the runtime's output stream.
type Message struct {
	Type    MessageType
	Content string
}

// ExecuteRequest is the input to Runtime.Execute (spec §6.3).
type ExecuteRequest struct {
	Agent            domain.Agent
	Prompt           string
	SessionID        string // empty if no prior session to resume
	WorkingDirectory string
}

// Runtime is the consumed collaborator (spec §6.3, §1 "out of scope: the
// actual agent runtime"). Execute returns a channel the caller drains
// until it closes; cancelling ctx must cause the channel to close
// promptly (whether or not a final MessageDone/MessageError was sent).
type Runtime interface {
	Execute(ctx context.Context, req ExecuteRequest) (<-chan Message, error)
}
