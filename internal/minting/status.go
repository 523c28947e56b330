package minting

import (
	"context"
	"errors"

	"nftmint/internal/nft"
	"nftmint/internal/wallet"
)

// Status is the progress of the current mint attempt.
type Status int

const (
	Idle Status = iota
	Submitting
	PendingConfirmation
	Confirmed
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case PendingConfirmation:
		return "pending_confirmation"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Label is the text shown on the mint control.
func (s Status) Label() string {
	switch s {
	case Submitting:
		return "Confirm in your wallet..."
	case PendingConfirmation:
		return "Minting..."
	case Confirmed:
		return "Minted!"
	case Failed:
		return "Mint failed"
	default:
		return "Mint NFT"
	}
}

// InFlight reports whether an attempt is between submission and a terminal
// status.
func (s Status) InFlight() bool {
	return s == Submitting || s == PendingConfirmation
}

// Reason classifies a failed attempt.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUserRejected
	ReasonInsufficientFunds
	ReasonSupplyExhausted
	ReasonDropped
	ReasonTimeout
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonUserRejected:
		return "user_rejected"
	case ReasonInsufficientFunds:
		return "insufficient_funds"
	case ReasonSupplyExhausted:
		return "supply_exhausted"
	case ReasonDropped:
		return "dropped"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message is the user-facing explanation for r.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonUserRejected:
		return "The transaction was rejected in your wallet."
	case ReasonInsufficientFunds:
		return "Not enough funds to pay for the mint."
	case ReasonSupplyExhausted:
		return "Sorry! All NFTs have already been minted."
	case ReasonDropped:
		return "The transaction was dropped before it was confirmed."
	case ReasonTimeout:
		return "Timed out waiting for the transaction to confirm."
	default:
		return "Something went wrong while minting. Please try again."
	}
}

// Classify maps a submission error onto a Reason.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, wallet.ErrUserRejected):
		return ReasonUserRejected
	case errors.Is(err, nft.ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, nft.ErrSupplyExhausted):
		return ReasonSupplyExhausted
	case errors.Is(err, ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

// classifyWait maps a confirmation failure onto a Reason. Anything the
// submission taxonomy does not recognize counts as a dropped transaction.
func classifyWait(err error) Reason {
	if r := Classify(err); r != ReasonUnknown {
		return r
	}
	if errors.Is(err, nft.ErrTxReverted) {
		return ReasonUnknown
	}
	return ReasonDropped
}
