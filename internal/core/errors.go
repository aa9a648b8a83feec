package core

import (
	"errors"
	"fmt"
)

var (
	ErrQueueFull             = errors.New("print queue is full")
	ErrSubmissionInterrupted = errors.New("task submission interrupted")
	ErrPrinterUnavailable    = errors.New("printer unavailable")
	ErrExecutionFailed       = errors.New("print execution failed")
	ErrPoolSaturated         = errors.New("worker pool backlog is full")
	ErrPoolStopped           = errors.New("worker pool is stopped")
	ErrInvalidTransition     = errors.New("invalid task status transition")
	ErrTaskNotFound          = errors.New("task not found")
	ErrNilTask               = errors.New("task is nil")
)

type ErrorKind string

const (
	KindQueueFull          ErrorKind = "queue_full"
	KindInterrupted        ErrorKind = "interrupted"
	KindPrinterUnavailable ErrorKind = "printer_unavailable"
	KindExecutionFailed    ErrorKind = "execution_failed"
	KindUnknown            ErrorKind = "unknown"
)

// PrintError is returned by a PrinterGateway when an attempt fails.
type PrintError struct {
	Kind    ErrorKind
	Printer string
	Err     error
}

func NewPrinterUnavailable(printer string, err error) *PrintError {
	return &PrintError{Kind: KindPrinterUnavailable, Printer: printer, Err: err}
}

func NewExecutionFailed(printer string, err error) *PrintError {
	return &PrintError{Kind: KindExecutionFailed, Printer: printer, Err: err}
}

func (e *PrintError) Error() string {
	name := e.Printer
	if name == "" {
		name = "default"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: printer %s", e.Kind, name)
	}
	return fmt.Sprintf("%s: printer %s: %v", e.Kind, name, e.Err)
}

func (e *PrintError) Unwrap() error {
	return e.Err
}

func (e *PrintError) Is(target error) bool {
	switch e.Kind {
	case KindPrinterUnavailable:
		return target == ErrPrinterUnavailable
	case KindExecutionFailed:
		return target == ErrExecutionFailed
	}
	return false
}

// KindOf classifies err into one of the error kinds the queue reports.
func KindOf(err error) ErrorKind {
	var printErr *PrintError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrSubmissionInterrupted):
		return KindInterrupted
	case errors.As(err, &printErr):
		return printErr.Kind
	default:
		return KindUnknown
	}
}
