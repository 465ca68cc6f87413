package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a note that does not exist.
	ErrNotFound = errors.New("collab: not found")
	// ErrForbidden reports an identity that is neither owner nor collaborator, or not in the room.
	ErrForbidden = errors.New("collab: forbidden")
	// ErrLockViolation reports an edit operation from a connection that does not hold the lock.
	ErrLockViolation = errors.New("collab: lock violation")
	// ErrPersistence reports a storage failure.
	ErrPersistence = errors.New("collab: persistence failure")
	// ErrBadRequest reports a malformed or unknown client event.
	ErrBadRequest = errors.New("collab: bad request")
)

// Client-visible error messages.
const (
	CodeNoteNotFound      = "note-not-found"
	CodeForbidden         = "forbidden"
	CodeNotInRoom         = "not-in-room"
	CodeNoLock            = "no-lock"
	CodeEditSessionActive = "edit-session-active"
	CodeReadOnly          = "read-only"
	CodeUnauthorizedSave  = "unauthorized-save"
	CodeSaveFailed        = "save-failed"
	CodeJoinFailed        = "join-failed"
	CodeLockFailed        = "lock-failed"
	CodeHistoryFailed     = "history-failed"
	CodeMessageFailed     = "message-failed"
	CodeMessageTooLong    = "message-too-long"
	CodeBadPayload        = "bad-payload"
	CodeUnknownEvent      = "unknown-event"
	CodeRateLimited       = "rate-limited"
)

// Error is a rejected operation. Code is sent to the originating connection only.
type Error struct {
	code  string
	kind  error
	cause error
}

func newError(code string, kind, cause error) *Error {
	return &Error{code: code, kind: kind, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.cause)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Code returns the client-visible message.
func (e *Error) Code() string {
	return e.code
}
