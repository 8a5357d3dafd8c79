package reminder

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrUnknownType is returned for a reminder type outside the closed set.
var ErrUnknownType = errors.New("unknown reminder type")

// Type is a reminder kind. String values match the reminder_type column.
type Type string

const (
	// A sender started a transfer the recipient has not yet accepted.
	RecipientFirst   Type = "recipient_1"
	RecipientSecond  Type = "recipient_2"
	RecipientExpired Type = "recipient_expired"
	SenderExpired    Type = "sender_expired"

	// The recipient accepted; the sender still has to finalize and broadcast.
	SenderFirst               Type = "sender_1"
	SenderSecond              Type = "sender_2"
	SenderBroadcastExpired    Type = "sender_broadcast_expired"
	RecipientBroadcastExpired Type = "recipient_broadcast_expired"
)

// AllTypes lists every Type.
var AllTypes = []Type{
	RecipientFirst,
	RecipientSecond,
	RecipientExpired,
	SenderExpired,
	SenderFirst,
	SenderSecond,
	SenderBroadcastExpired,
	RecipientBroadcastExpired,
}

// ParseType maps a stored string to a Type.
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Offsets are the delays from the triggering event to each reminder.
type Offsets struct {
	First   time.Duration
	Second  time.Duration
	Expired time.Duration
}

// Descriptor is the static configuration of one reminder type.
type Descriptor struct {
	Offset  time.Duration
	Title   string
	Body    string
	Enabled bool
}

// Descriptors maps every Type to its Descriptor.
type Descriptors map[Type]Descriptor

// DefaultDescriptors builds the standard reminder copy for a ticker.
func DefaultDescriptors(offsets Offsets, ticker string) Descriptors {
	return Descriptors{
		RecipientFirst: {
			Offset:  offsets.First,
			Title:   fmt.Sprintf("You have %s waiting", ticker),
			Body:    fmt.Sprintf("Open your wallet to receive the %s someone sent you.", ticker),
			Enabled: true,
		},
		RecipientSecond: {
			Offset:  offsets.Second,
			Title:   fmt.Sprintf("Your %s is still waiting", ticker),
			Body:    "Open your wallet soon or the transaction will be cancelled.",
			Enabled: true,
		},
		RecipientExpired: {
			Offset:  offsets.Expired,
			Title:   "Transaction expired",
			Body:    fmt.Sprintf("A %s transaction to you was cancelled because it wasn't accepted in time.", ticker),
			Enabled: true,
		},
		SenderExpired: {
			Offset:  offsets.Expired,
			Title:   "Transaction expired",
			Body:    fmt.Sprintf("The recipient didn't accept your %s in time. Your funds have been returned.", ticker),
			Enabled: true,
		},
		SenderFirst: {
			Offset:  offsets.First,
			Title:   "Your transaction was accepted",
			Body:    "Open your wallet to finish sending.",
			Enabled: true,
		},
		SenderSecond: {
			Offset:  offsets.Second,
			Title:   "Finish your transaction",
			Body:    "Open your wallet soon or the transaction will be cancelled.",
			Enabled: true,
		},
		SenderBroadcastExpired: {
			Offset:  offsets.Expired,
			Title:   "Transaction expired",
			Body:    "Your transaction was cancelled because it wasn't completed in time.",
			Enabled: true,
		},
		RecipientBroadcastExpired: {
			Offset:  offsets.Expired,
			Title:   "Transaction expired",
			Body:    fmt.Sprintf("The sender didn't complete their %s transaction in time.", ticker),
			Enabled: true,
		},
	}
}

// Validate fails unless every Type has a descriptor with a positive offset.
func (d Descriptors) Validate() error {
	var result *multierror.Error
	for _, t := range AllTypes {
		desc, ok := d[t]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("missing descriptor for %s", t))
			continue
		}
		if desc.Offset <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s: offset must be positive", t))
		}
	}
	for t := range d {
		if _, err := ParseType(string(t)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
