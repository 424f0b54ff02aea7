package domain

import "errors"

var (
	// should just skip them
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

// IDepthUpdateValidator decides whether a delta may be applied on top of a book whose
// cursor is orderBookSequenceID.
type IDepthUpdateValidator interface {
	// if return nil, the update is valid
	IsValidUpd(update *DeltaEvent, orderBookSequenceID int64) error
	IsErrOutdated(err error) bool
}
