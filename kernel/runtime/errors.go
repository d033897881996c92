package runtime

import (
	"errors"
	"fmt"
)

// ConversationBusyError indicates a conversation already has an in-flight
// send; turns on one conversation are strictly sequential.
type ConversationBusyError struct {
	ThreadID string
}

func (e *ConversationBusyError) Error() string {
	if e == nil {
		return "runtime: conversation is busy"
	}
	return fmt.Sprintf("runtime: conversation %q is busy", e.ThreadID)
}

func IsConversationBusy(err error) bool {
	var target *ConversationBusyError
	return errors.As(err, &target)
}
