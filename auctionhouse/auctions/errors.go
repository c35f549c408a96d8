package auctions

import "errors"

// The engine reports failures through this closed enumeration. Every error is
// recoverable at the operation boundary: a failed operation leaves all state
// unchanged. Callers match with errors.Is.
var (
	// Existence
	ErrAuctionNotExist = errors.New("auction does not exist")

	// Temporal
	ErrAuctionNotStarted             = errors.New("auction has not started yet")
	ErrAuctionAlreadyStarted         = errors.New("auction has already started")
	ErrAuctionEndTimeReached         = errors.New("auction has already ended")
	ErrAuctionEndTimeNotReached      = errors.New("auction end time has not been reached")
	ErrAuctionStartTimeAlreadyPassed = errors.New("auction start time has already passed")
	ErrInvalidTimeConfiguration      = errors.New("invalid auction time configuration")
	ErrTimeUnderflow                 = errors.New("time underflow")

	// Authorization
	ErrNotAuctionOwner = errors.New("not the auction owner")
	ErrNotATokenOwner  = errors.New("not the token owner")

	// Pricing
	ErrInvalidBidPrice          = errors.New("bid amount is invalid")
	ErrInvalidNextBidMin        = errors.New("next bid minimum does not match the reserve price policy")
	ErrBidOverflow              = errors.New("bid overflow")
	ErrInvalidTopUpLockedAmount = errors.New("top-up contribution overflow")
	ErrCannotBidOnOwnAuction    = errors.New("cannot bid on own auction")

	// Custody
	ErrTokenFrozen            = errors.New("token is frozen from transfers")
	ErrCannotSetAuctionClosed = errors.New("closed can only be set by the close operation")
	ErrAuctionClosed          = errors.New("auction is already closed")

	// Capacity
	ErrNoAvailableAuctionID = errors.New("no available auction id")
	ErrTooLong              = errors.New("auction name exceeds the length limit")
	ErrEmptyAuctionName     = errors.New("auction name cannot be empty")

	// Shape
	ErrNoChangeOfAuctionType = errors.New("auction type cannot be changed")
	ErrCannotChangeToken     = errors.New("auctioned token cannot be changed")
	ErrUnknownAuctionKind    = errors.New("unknown auction kind")

	// Refund claims (TopUp settlement follow-up)
	ErrAuctionNotClosed = errors.New("auction is not closed yet")
	ErrNothingToClaim   = errors.New("no contribution recorded for claimant")
)
