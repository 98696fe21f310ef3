package kernel

import "github.com/pkg/errors"

var (
	ErrAlreadyInitialized = errors.New("scheduler already initialized")
	ErrNotInitialized     = errors.New("scheduler not initialized")
	ErrInvalidProcess     = errors.New("invalid process record")
	ErrNameTooLong        = errors.New("process name too long")
	ErrUnknownProcess     = errors.New("process not registered")
	ErrUnknownThread      = errors.New("thread not registered")
	ErrNoPids             = errors.New("process identifier space exhausted")
	ErrNoTids             = errors.New("thread identifier space exhausted")
	ErrProcessBusy        = errors.New("process still has live threads")
	ErrNoRunnable         = errors.New("no runnable thread")
	ErrBadContext         = errors.New("saved context has unknown version")
	ErrUnbalancedUnlock   = errors.New("scheduler unlock without lock")
	ErrBadConfig          = errors.New("invalid kernel configuration")
)
