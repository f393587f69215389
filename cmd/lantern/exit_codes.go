package main

import (
	"errors"

	"github.com/odvcencio/lantern/pkg/browser"
)

const (
	exitUsage           = 2
	exitConfig          = 3
	exitEngine          = 4
	exitShutdownTimeout = 5
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	if errors.Is(err, browser.ErrShutdownTimeout) {
		return exitShutdownTimeout
	}
	return 1
}
