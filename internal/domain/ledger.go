package domain

import (
	"context"
	"time"
)

// Reservation is an exclusive hold on funds for one saga. It is created by
// BalanceLedger.Reserve, owned by exactly one saga, and consumed by exactly
// one Settle or Release. It is never split or transferred between sagas.
type Reservation struct {
	ID        string
	Venue     Venue
	Currency  string
	Amount    float64
	Owner     string // saga ID
	CreatedAt time.Time
}

// BalanceLedger is the authoritative view of usable funds per venue and
// currency, with hold semantics for in-flight sagas.
//
// Invariant: for a given venue/currency, available+reserved never increases
// except through Credit (external deposit or settlement arrival) and never
// decreases except through the consumed amount and fee recorded at Settle.
// All mutations for one venue/currency pair are serialized.
type BalanceLedger interface {
	// Reserve places a hold. Returns ErrInsufficientFunds when available
	// funds do not cover amount.
	Reserve(ctx context.Context, venue Venue, currency string, amount float64, owner string) (*Reservation, error)

	// Settle consumes a reservation: consumed+fee leave the ledger (spent on
	// the trade and its fee), the unspent remainder returns to available.
	Settle(ctx context.Context, res *Reservation, consumed, fee float64) error

	// Release returns the full held amount to available.
	Release(ctx context.Context, res *Reservation) error

	// Credit records an external arrival of funds (deposit, transfer
	// credit, trade proceeds).
	Credit(ctx context.Context, venue Venue, currency string, amount float64) error

	// Balance returns the current available and reserved amounts.
	Balance(ctx context.Context, venue Venue, currency string) (available, reserved float64, err error)

	// OpenReservations lists every reservation currently held, so stuck
	// sagas' holds stay visible and queryable.
	OpenReservations(ctx context.Context) ([]Reservation, error)
}

// LedgerEntry is one venue/currency row in a ledger snapshot.
type LedgerEntry struct {
	Venue     Venue   `json:"venue"`
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Reserved  float64 `json:"reserved"`
}

// LedgerSnapshot is a restorable copy of a virtual ledger's state, written
// after every settling mutation in paper-trading mode.
type LedgerSnapshot struct {
	Entries      []LedgerEntry `json:"entries"`
	Reservations []Reservation `json:"reservations"`
	SavedAt      time.Time     `json:"saved_at"`
}

// SnapshotStore persists ledger snapshots between paper-trading runs.
type SnapshotStore interface {
	Save(ctx context.Context, snap LedgerSnapshot) error
	// Load returns ErrNotFound when no snapshot exists yet.
	Load(ctx context.Context) (LedgerSnapshot, error)
}
