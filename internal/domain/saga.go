package domain

import "time"

// SagaState is one position in the trade saga's lifecycle. A saga advances
// strictly forward through the leg states and terminates in SagaCompleted,
// SagaAborted, or SagaFailed; SagaStuck is a parked state a saga enters when
// it can neither progress nor safely compensate.
type SagaState string

const (
	SagaCreated       SagaState = "created"
	SagaLeg1Buying    SagaState = "leg1_buying"
	SagaLeg1Confirmed SagaState = "leg1_confirmed"
	SagaTransferring1 SagaState = "transferring1"
	SagaLeg2Acting    SagaState = "leg2_acting"
	SagaTransferring2 SagaState = "transferring2"
	SagaLeg3Settling  SagaState = "leg3_settling"
	SagaCompleted     SagaState = "completed"
	SagaCompensating  SagaState = "compensating_abort"
	SagaAborted       SagaState = "aborted"
	SagaStuck         SagaState = "stuck"
	SagaFailed        SagaState = "failed_irrecoverable"
)

// Terminal reports whether the state ends the saga. SagaStuck is not
// terminal: a stuck saga keeps polling for late confirmation.
func (s SagaState) Terminal() bool {
	switch s {
	case SagaCompleted, SagaAborted, SagaFailed:
		return true
	}
	return false
}

// StepOutcome records what one saga step actually did: the realized fill or
// transfer, how many attempts it took, and the error that ended it if it
// failed. Realized values are what the venue reported, never the requested
// ones.
type StepOutcome struct {
	Step       string
	State      SagaState
	Fill       *Fill
	Transfer   *TransferHandle
	Credited   float64
	Attempts   int
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SagaRecord is the completed-saga report appended to the performance sink.
// RealizedPnLKRW is computed from recorded fills and fees, not from the
// original opportunity estimate.
type SagaRecord struct {
	ID                  string
	Opportunity         Opportunity
	State               SagaState
	Steps               []StepOutcome
	RealizedPnLKRW      float64
	TotalFeesKRW        float64
	CompensationLossKRW float64
	StartedAt           time.Time
	FinishedAt          time.Time
	Duration            time.Duration
}

// Succeeded reports whether the saga ran its full route.
func (r SagaRecord) Succeeded() bool { return r.State == SagaCompleted }
