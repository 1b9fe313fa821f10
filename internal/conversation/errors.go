// ABOUTME: Errors returned by the conversation package
// ABOUTME: Callers map these to not-found, validation and server failures

package conversation

import "errors"

var (
	// ErrConversationNotFound is returned when the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInboxNotFound is returned when the inbox does not exist.
	ErrInboxNotFound = errors.New("inbox not found")
	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidPriority is returned for unknown priority values.
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrInvalidMessage is returned for messages with empty content or an
	// unknown type or sender.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrAssigneeNotInInbox is returned when assignment edges are enforced
	// and the agent holds none for the conversation's inbox.
	ErrAssigneeNotInInbox = errors.New("agent is not assigned to the inbox")
	// ErrConflict is returned when reopening a conversation while another
	// active conversation exists for the same contact and inbox.
	ErrConflict = errors.New("another active conversation exists")
	// ErrConcurrentUpdate is returned when a status change keeps losing to
	// concurrent status changes on the same conversation.
	ErrConcurrentUpdate = errors.New("conversation changed concurrently")
	// ErrStorage wraps persistence failures. These are transient and safe to retry.
	ErrStorage = errors.New("storage error")
)
