package orchestrator

import "fmt"

// The three request-path failure classes. Input errors map to 400, the other
// two to 500; cleanup-time failures never reach a client and live in the
// scheduler's logs instead.

type InputError struct {
    Msg string
}

func (e *InputError) Error() string { return e.Msg }

func inputErr(msg string) *InputError { return &InputError{Msg: msg} }

func inputErrf(format string, args ...any) *InputError {
    return &InputError{Msg: fmt.Sprintf(format, args...)}
}

type ConversionError struct {
    Msg string
    Err error
}

func (e *ConversionError) Error() string {
    if e.Err != nil { return fmt.Sprintf("%s: %v", e.Msg, e.Err) }
    return e.Msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

func convErr(msg string, err error) *ConversionError { return &ConversionError{Msg: msg, Err: err} }

type StorageError struct {
    Msg string
    Err error
}

func (e *StorageError) Error() string {
    if e.Err != nil { return fmt.Sprintf("%s: %v", e.Msg, e.Err) }
    return e.Msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(msg string, err error) *StorageError { return &StorageError{Msg: msg, Err: err} }
