package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/stockroom/internal/bus"
	"github.com/roach88/stockroom/internal/transport"
)

// OutcomeKind summarises how a batch attempt ended.
type OutcomeKind string

const (
	OutcomeOK           OutcomeKind = "OK"
	OutcomeConflicts    OutcomeKind = "CONFLICTS"
	OutcomeFailures     OutcomeKind = "FAILURES"
	OutcomeNetworkError OutcomeKind = "NETWORK_ERROR"
	OutcomeConfigError  OutcomeKind = "CONFIG_ERROR"
	OutcomeRejected     OutcomeKind = "REJECTED"
)

// ConflictCode is the structured result code for a stale edit.
const ConflictCode = "CONFLICT"

// Outcome is the result of one batch attempt.
type Outcome struct {
	Kind      OutcomeKind               `json:"kind"`
	Submitted int                       `json:"submitted"`
	Conflicts int                       `json:"conflicts,omitempty"`
	Failures  int                       `json:"failures,omitempty"`
	IDs       []string                  `json:"ids,omitempty"`
	Results   []transport.CommandResult `json:"results,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Err       error                     `json:"-"`
}

// Delivered reports whether the backend accepted the batch, whatever it
// decided about individual commands. Delivered batches leave the queue.
func (o Outcome) Delivered() bool {
	switch o.Kind {
	case OutcomeOK, OutcomeConflicts, OutcomeFailures:
		return true
	}
	return false
}

// Retryable reports whether background redelivery should be armed.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeNetworkError || o.Kind == OutcomeRejected
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeConflicts:
		return fmt.Sprintf("%d of %d commands conflicted", o.Conflicts, o.Submitted)
	case OutcomeFailures:
		return fmt.Sprintf("%d of %d commands failed", o.Failures, o.Submitted)
	case OutcomeOK:
		return fmt.Sprintf("%d commands delivered", o.Submitted)
	}
	if o.Message != "" {
		return fmt.Sprintf("%s: %s", o.Kind, o.Message)
	}
	return string(o.Kind)
}

// IsConflict reports whether r is a rejected stale edit. The structured
// code wins; older backends only say so in the message.
func IsConflict(r transport.CommandResult) bool {
	if r.Success {
		return false
	}
	if r.Code != "" {
		return strings.EqualFold(r.Code, ConflictCode)
	}
	msg := strings.ToLower(r.Message)
	return strings.Contains(msg, "conflict") || strings.Contains(msg, "mismatch")
}

// Classify turns a batch reply into an Outcome. Conflicts take precedence
// over other failures.
func Classify(resp *transport.BatchResponse, ids []string) Outcome {
	out := Outcome{Submitted: len(ids), IDs: ids}
	if resp == nil || !resp.Success {
		out.Kind = OutcomeRejected
		if resp != nil {
			out.Message = resp.Message
		}
		if out.Message == "" {
			out.Message = "batch rejected by server"
		}
		return out
	}

	out.Results = resp.Results
	for _, r := range resp.Results {
		switch {
		case r.Success:
		case IsConflict(r):
			out.Conflicts++
		default:
			out.Failures++
		}
	}
	switch {
	case out.Conflicts > 0:
		out.Kind = OutcomeConflicts
	case out.Failures > 0:
		out.Kind = OutcomeFailures
	default:
		out.Kind = OutcomeOK
	}
	return out
}

func failure(err error, ids []string) Outcome {
	out := Outcome{Submitted: len(ids), IDs: ids, Err: err, Message: err.Error()}
	var cfg *transport.ConfigError
	if errors.As(err, &cfg) {
		out.Kind = OutcomeConfigError
		return out
	}
	out.Kind = OutcomeNetworkError
	return out
}

// event converts o into the bus message announcing it.
func (o Outcome) event() bus.Event {
	e := bus.Event{Count: o.Submitted, Results: o.Results, IDs: o.IDs}
	if o.Delivered() {
		e.Type = bus.SyncComplete
		return e
	}
	e.Type = bus.SyncError
	e.Error = o.String()
	return e
}

// outcomeFromEvent rebuilds what can be known about an attempt made
// elsewhere.
func outcomeFromEvent(e bus.Event) Outcome {
	if e.Type == bus.SyncComplete {
		return Classify(&transport.BatchResponse{Success: true, Results: e.Results}, e.IDs)
	}
	return Outcome{Kind: OutcomeNetworkError, Submitted: e.Count, IDs: e.IDs, Message: e.Error}
}
