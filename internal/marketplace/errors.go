package marketplace

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation was rejected, so a driving application
// can decide whether to re-approve and resubmit, re-query state, or abort.
type Kind int

const (
	// KindValidation marks malformed input (zero price, zero duration).
	KindValidation Kind = iota + 1
	// KindState marks operations not applicable to the current record
	// state (not listed, no auction, ended, still open).
	KindState
	// KindAuthorization marks a caller that is not the required identity.
	KindAuthorization
	// KindCollaborator marks a rejection propagated from the asset
	// registry or value ledger.
	KindCollaborator
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindCollaborator:
		return "collaborator"
	}
	return "unknown"
}

// Error is the failure type surfaced by every marketplace operation. No
// operation ever retains partial effects alongside a returned Error.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

var (
	ErrZeroPrice    = &Error{Kind: KindValidation, msg: "price must be greater than zero"}
	ErrZeroDuration = &Error{Kind: KindValidation, msg: "duration cannot be zero"}
	ErrBidTooLow    = &Error{Kind: KindValidation, msg: "bid amount must be greater than current bid"}

	ErrNotListed   = &Error{Kind: KindState, msg: "item not listed"}
	ErrNoAuction   = &Error{Kind: KindState, msg: "no auctions for this item"}
	ErrAuctionOver = &Error{Kind: KindState, msg: "auction ended"}
	ErrAuctionOpen = &Error{Kind: KindState, msg: "auction still in progress"}

	ErrNotSeller     = &Error{Kind: KindAuthorization, msg: "caller is not the seller"}
	ErrNotAdmin      = &Error{Kind: KindAuthorization, msg: "not authorized"}
	ErrNotAssetOwner = &Error{Kind: KindAuthorization, msg: "caller does not own the asset"}
	ErrNotApproved   = &Error{Kind: KindAuthorization, msg: "marketplace is not approved to transfer the asset"}
)

// collaboratorError wraps a registry or ledger rejection.
func collaboratorError(op string, err error) *Error {
	return &Error{Kind: KindCollaborator, msg: op, err: err}
}

// KindOf extracts the failure category, or zero for non-marketplace errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
