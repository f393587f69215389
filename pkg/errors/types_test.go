package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeViewNotFound, "view 01H not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeViewNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeViewNotFound)
	}

	if err.Message != "view 01H not found" {
		t.Errorf("Message = %v, want 'view 01H not found'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("exec: browserd not found")
	err := Wrap(underlying, ErrCodeConfiguration, "engine could not start")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if !strings.Contains(err.Error(), "browserd not found") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestSentinelHasNoStack(t *testing.T) {
	err := Sentinel(ErrCodeCancelled, "navigation cancelled")
	if len(err.Stack) != 0 {
		t.Errorf("sentinel should not capture a stack, got %d frames", len(err.Stack))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	target := Sentinel(ErrCodeUnsupportedScheme, "unsupported scheme")

	err := New(ErrCodeUnsupportedScheme, "ftp is not allowed").WithContext("scheme", "ftp")
	if !errors.Is(err, target) {
		t.Error("errors.Is should match errors with the same code")
	}

	wrapped := fmt.Errorf("navigate: %w", err)
	if !errors.Is(wrapped, target) {
		t.Error("errors.Is should see through fmt wrapping")
	}

	other := New(ErrCodeInvalidLocation, "bad location")
	if errors.Is(other, target) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestWithContextIsSorted(t *testing.T) {
	err := New(ErrCodeEngineFault, "engine fault").
		WithContext("view", "v1").
		WithContext("generation", 3)

	got := err.Error()
	want := "[ENGINE_FAULT] engine fault {generation: 3, view: v1}"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCodeStorageWrite, "database is locked").WithRetryable(true)

	if !err.IsRetryable() {
		t.Error("IsRetryable should return true")
	}
	if !IsRetryable(fmt.Errorf("record visit: %w", err)) {
		t.Error("package IsRetryable should see through wrapping")
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeShutdownTimeout, "engine did not acknowledge teardown")

	if !IsCode(err, ErrCodeShutdownTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeConfiguration) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeShutdownTimeout) {
		t.Error("IsCode should return false for nil error")
	}
	if IsCode(errors.New("standard error"), ErrCodeInternal) {
		t.Error("IsCode should return false for non-Lantern errors")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeAtBoundary, "no history")); got != ErrCodeAtBoundary {
		t.Errorf("GetCode = %v, want %v", got, ErrCodeAtBoundary)
	}
	if GetCode(nil) != "" {
		t.Error("GetCode should return empty string for nil")
	}
	if GetCode(errors.New("standard")) != ErrCodeInternal {
		t.Error("GetCode should return ErrCodeInternal for non-Lantern errors")
	}
}

func TestRemediation(t *testing.T) {
	custom := New(ErrCodeConfiguration, "bad viewport").WithRemediation("set renderer.width")
	if got := Remediation(custom); len(got) != 1 || got[0] != "set renderer.width" {
		t.Errorf("Remediation(custom) = %v", got)
	}

	fallback := Remediation(New(ErrCodeUnsupportedScheme, "ftp"))
	if len(fallback) != 1 || !strings.Contains(fallback[0], "about:blank") {
		t.Errorf("Remediation(default) = %v", fallback)
	}

	if Remediation(errors.New("plain")) != nil {
		t.Error("Remediation should be nil for non-Lantern errors")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "test error")

	trace := err.StackTrace()
	if !strings.Contains(trace, "Stack trace:") {
		t.Error("StackTrace should contain header")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should have frames")
	}
}

func TestCaptureStack(t *testing.T) {
	frames := captureStack(0)
	if len(frames) == 0 {
		t.Fatal("captureStack should return at least one frame")
	}

	found := false
	for _, frame := range frames {
		if strings.Contains(frame.Function, "Test") || strings.Contains(frame.Function, "errors") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Stack should contain test or errors package frames")
	}
}

func TestEveryBrowserCodeHasRemediation(t *testing.T) {
	codes := []ErrorCode{
		ErrCodeConfiguration,
		ErrCodeAlreadyInitialized,
		ErrCodeNotInitialized,
		ErrCodeShutdownTimeout,
		ErrCodeUnsupportedScheme,
		ErrCodeInvalidLocation,
		ErrCodeInvalidViewport,
		ErrCodeViewNotFound,
		ErrCodeAtBoundary,
		ErrCodeEngineFault,
	}

	for _, code := range codes {
		if _, ok := defaultRemediation[code]; !ok {
			t.Errorf("missing default remediation for %s", code)
		}
	}
}
