package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/logging"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Available callback types:
//   - BeforeSend: after validation, before the user message is persisted
//   - AfterSend: after a turn's replies (or its error message) are persisted
//   - OnStateChange: after a session moved to a new lifecycle state
//   - OnError: when a backend call failed
//
// Only BeforeSend callbacks can influence the operation: an error rejects the
// message with KindInvalidInput before anything is written. Errors from the
// other callback types are logged and ignored.
type CallbackType string

const (
	// CallbackBeforeSend runs before a user message is persisted.
	// Use for content policies or request auditing.
	CallbackBeforeSend CallbackType = "before_send"

	// CallbackAfterSend runs once a turn is complete.
	CallbackAfterSend CallbackType = "after_send"

	// CallbackOnStateChange runs after a lifecycle transition was persisted.
	CallbackOnStateChange CallbackType = "on_state_change"

	// CallbackOnError runs when a backend call failed.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. Fields that do not
// apply to a callback type are zero.
type CallbackContext struct {
	CallbackType CallbackType

	// Session is a snapshot taken when the callback fires.
	Session core.Session

	// Content is the user text of the turn (send callbacks).
	Content string

	// Replies are the messages appended after the user message (AfterSend).
	Replies []core.Message

	// From and To describe a transition (OnStateChange).
	From, To core.SessionState

	// Err is the backend failure (OnError).
	Err error
}

// Callback is an execution lifecycle hook.
//
// Callbacks run synchronously on the calling goroutine while the session's
// turn is held, so they should be fast and must not call back into the
// SessionManager for the same session.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
//
// Example:
//
//	audit := NewFunctionCallback(CallbackAfterSend, func(ctx context.Context, cc *CallbackContext) error {
//	    log.Printf("session %s: %d replies", cc.Session.ID, len(cc.Replies))
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type. Callbacks run in registration
// order and the first error stops the chain. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback under its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback registered for callbackType and
// returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback writes one log line per lifecycle event.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the event. It never fails.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	args := []any{"callback", string(c.callbackType), "session_id", cc.Session.ID, "backend", string(cc.Session.BackendType)}
	switch c.callbackType {
	case CallbackAfterSend:
		args = append(args, "replies", len(cc.Replies))
	case CallbackOnStateChange:
		args = append(args, "from", string(cc.From), "to", string(cc.To))
	case CallbackOnError:
		args = append(args, "error", cc.Err)
	}
	c.logger.Info("session event", args...)
	return nil
}

// ContentPolicyCallback rejects user messages that fail validate.
//
// Example:
//
//	maxLen := NewContentPolicyCallback(func(content string) error {
//	    if len(content) > 32_000 {
//	        return errors.New("message too long")
//	    }
//	    return nil
//	})
type ContentPolicyCallback struct {
	validate func(content string) error
}

// NewContentPolicyCallback creates a BeforeSend callback around validate.
func NewContentPolicyCallback(validate func(content string) error) *ContentPolicyCallback {
	return &ContentPolicyCallback{validate: validate}
}

// Type returns CallbackBeforeSend.
func (c *ContentPolicyCallback) Type() CallbackType {
	return CallbackBeforeSend
}

// Execute applies the validator to the user content.
func (c *ContentPolicyCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.validate == nil {
		return nil
	}
	return c.validate(cc.Content)
}
