package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderBookNotFound = errors.New("order book not found")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrUnknownProvider   = errors.New("unknown provider")
)

// FetchError means a snapshot could not be retrieved or parsed. The symbol stays
// unsynced and is retried on its next delta.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("snapshot fetch for %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedDeltaError means a delta failed structural validation and was discarded.
type MalformedDeltaError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *MalformedDeltaError) Error() string {
	msg := fmt.Sprintf("malformed delta for %q: %s", e.Symbol, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedDeltaError) Unwrap() error { return e.Err }

// SubscriptionError reports a failure of the underlying delta stream.
type SubscriptionError struct {
	Topics []string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription [%s]: %v", strings.Join(e.Topics, ","), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

type DiscardReason string

const (
	DiscardStale          DiscardReason = "stale"
	DiscardMalformed      DiscardReason = "malformed"
	DiscardUnrequested    DiscardReason = "unrequested"
	DiscardSnapshotFailed DiscardReason = "snapshot-failed"
	DiscardClosed         DiscardReason = "closed"
)

var DiscardReasons = []DiscardReason{
	DiscardStale, DiscardMalformed, DiscardUnrequested, DiscardSnapshotFailed, DiscardClosed,
}

// Discard describes a delta that was dropped without being applied.
type Discard struct {
	Symbol     string
	SequenceID int64
	Reason     DiscardReason
	Err        error
}
