package domain

import "errors"

// SequenceGate applies a delta when book.SequenceID <= delta.SequenceID.
// Equal sequences are re-applied: payloads carry absolute amounts, so replaying one is a no-op
// for the ladder. This assumption breaks if a feed ever sends relative quantities.
type SequenceGate struct{}

func (SequenceGate) IsValidUpd(update *DeltaEvent, orderBookSequenceID int64) error {
	if update.SequenceID < orderBookSequenceID {
		return ErrOrderBookUpdateIsOutdated
	}

	return nil
}

func (SequenceGate) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutdated)
}
