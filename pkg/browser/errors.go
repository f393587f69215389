package browser

import (
	"context"
	"fmt"

	lerrors "github.com/odvcencio/lantern/pkg/errors"
)

// Sentinels for errors.Is. Returned errors carry context and a stack but
// match these by code.
var (
	ErrConfiguration      = lerrors.Sentinel(lerrors.ErrCodeConfiguration, "engine cannot start")
	ErrAlreadyInitialized = lerrors.Sentinel(lerrors.ErrCodeAlreadyInitialized, "renderer already initialized")
	ErrNotInitialized     = lerrors.Sentinel(lerrors.ErrCodeNotInitialized, "renderer not initialized")
	ErrUnsupportedScheme  = lerrors.Sentinel(lerrors.ErrCodeUnsupportedScheme, "unsupported location scheme")
	ErrInvalidLocation    = lerrors.Sentinel(lerrors.ErrCodeInvalidLocation, "invalid location")
	ErrInvalidViewport    = lerrors.Sentinel(lerrors.ErrCodeInvalidViewport, "invalid viewport")
	ErrViewNotFound       = lerrors.Sentinel(lerrors.ErrCodeViewNotFound, "view not found")
	ErrAtBoundary         = lerrors.Sentinel(lerrors.ErrCodeAtBoundary, "no history entry in that direction")
	ErrEngineFault        = lerrors.Sentinel(lerrors.ErrCodeEngineFault, "engine fault")
	ErrCancelled          = lerrors.Sentinel(lerrors.ErrCodeCancelled, "navigation cancelled")
	ErrShutdownTimeout    = lerrors.Sentinel(lerrors.ErrCodeShutdownTimeout, "engine did not acknowledge shutdown")
)

func configurationError(err error, message string) error {
	return lerrors.Wrap(err, lerrors.ErrCodeConfiguration, message)
}

func viewNotFound(id ViewID) error {
	return lerrors.New(lerrors.ErrCodeViewNotFound, "view not found").
		WithContext("view", string(id)).
		WithUserMessage("This tab no longer exists.")
}

func unsupportedScheme(location, scheme string) error {
	return lerrors.New(lerrors.ErrCodeUnsupportedScheme, fmt.Sprintf("scheme %q is not allowed", scheme)).
		WithContext("location", location).
		WithUserMessage("This kind of address cannot be opened.")
}

func invalidLocation(location, reason string) error {
	return lerrors.New(lerrors.ErrCodeInvalidLocation, reason).
		WithContext("location", location).
		WithUserMessage("That address is not valid.")
}

func invalidViewport(v Viewport) error {
	return lerrors.New(lerrors.ErrCodeInvalidViewport, "viewport dimensions must be positive").
		WithContext("viewport", v.String())
}

func atBoundary(id ViewID, direction string) error {
	return lerrors.New(lerrors.ErrCodeAtBoundary, "no history entry "+direction).
		WithContext("view", string(id))
}

// engineFault wraps an error the engine returned synchronously.
func engineFault(err error, id ViewID, op string) error {
	return lerrors.Wrap(err, lerrors.ErrCodeEngineFault, op+" refused by engine").
		WithContext("view", string(id)).
		WithUserMessage("The page could not be loaded.")
}

// loadFailure builds the error stored for an asynchronous LoadFailed event.
// It skips stack capture because it runs on engine goroutines.
func loadFailure(message string) error {
	if message == "" {
		message = "load failed"
	}
	e := lerrors.Sentinel(lerrors.ErrCodeEngineFault, message)
	e.UserMessage = "The page could not be loaded."
	return e
}

func cancelled() error {
	return lerrors.Sentinel(lerrors.ErrCodeCancelled, "navigation cancelled before any page loaded")
}

func shutdownTimeout(err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return lerrors.Wrap(err, lerrors.ErrCodeShutdownTimeout, "engine did not acknowledge shutdown")
}
