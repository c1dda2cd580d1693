/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the sum type a Waiter observes at notification time, replacing
// the source's sign-encoded (code, errno) convention (spec.md §9,
// "Mixed-signed status values"): status < 0 was errno, status >= 0 was HTTP.
type Status struct {
	Kind    StatusKind
	Code    int    // HTTP status, meaningful when Kind == StatusAborted
	Message string // reason atom text, meaningful when Kind == StatusAborted
	Err     error  // meaningful when Kind == StatusIOError
}

type StatusKind int

const (
	StatusProgress StatusKind = iota // addData/partial landed more bytes; object still INPROGRESS
	StatusComplete                   // fetch finished normally
	StatusAborted                    // Object.Abort was called
	StatusSuperseded                 // Object.Supersede was called
	StatusIOError                    // handler cancellation or collaborator I/O failure
)

func (s Status) String() string {
	switch s.Kind {
	case StatusAborted:
		return fmt.Sprintf("aborted(%d %s)", s.Code, s.Message)
	case StatusIOError:
		return fmt.Sprintf("io-error(%v)", s.Err)
	case StatusSuperseded:
		return "superseded"
	case StatusComplete:
		return "complete"
	default:
		return "progress"
	}
}

// Protocol violation / resource errors named in spec.md §7.
var (
	ErrChunkPoolExhausted  = errors.New("chunk pool exhausted")
	ErrInconsistentLength  = errors.New("inconsistent content-length")
	ErrChunkMiddleWrite    = errors.New("write past unwritten chunk prefix")
	ErrNotifyReentrant     = errors.New("notifyObject: re-entrant notification")
	ErrRegisterDuringNotify = errors.New("registerHandler: called from inside a notification callback")
	ErrDoubleFree          = errors.New("double free")
	ErrChunkNotLocked      = errors.New("unlock of an unlocked chunk")
)

// Wrap mirrors the teacher's use of github.com/pkg/errors to attach context
// to collaborator failures (ais/backend/*.go) while preserving Cause().
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
