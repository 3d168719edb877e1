package engine

import (
	"context"
	"time"

	"parking-lot-backend/internal/model"
)

// Op identifies an engine operation. The transport layer routes every
// decoded request through the dispatch table keyed by these values.
type Op string

const (
	OpMakeReservation      Op = "make_reservation"
	OpEnterSpontaneous     Op = "enter_spontaneous"
	OpEnterWithReservation Op = "enter_with_reservation"
	OpExit                 Op = "exit"
	OpExtend               Op = "extend"
	OpCancel               Op = "cancel"
	OpAvailability         Op = "availability"
	OpHistory              Op = "history"
)

// Request shapes are explicit and separately versioned; there is no
// arity-sniffed legacy encoding. Mutating requests always carry the
// caller's subscriber id.

type MakeReservationRequest struct {
	SubscriberID int64
	Start        time.Time
	// Slots > 0 selects the fine-grained slot-aligned booking; zero
	// selects the default fixed block.
	Slots int
}

type EnterSpontaneousRequest struct {
	SubscriberID int64
}

type EnterWithReservationRequest struct {
	Code string
}

type ExitRequest struct {
	Code         string
	SubscriberID int64
}

type ExtendRequest struct {
	Code         string
	Hours        int
	SubscriberID int64
}

type CancelRequest struct {
	Code string
	// SubscriberID nil means system-initiated.
	SubscriberID *int64
}

type AvailabilityRequest struct {
	Window *Window
}

type HistoryRequest struct {
	SubscriberID int64
}

type ExitResult struct {
	Late bool `json:"late"`
}

type ExtendResult struct {
	NewEstEnd time.Time `json:"newEstimatedEnd"`
}

type HistoryResult struct {
	Sessions []model.Session `json:"sessions"`
}

type handlerFunc func(ctx context.Context, req any) (any, error)

// Dispatcher routes typed requests to engine operations through a
// table keyed by operation, one uniform signature per entry.
type Dispatcher struct {
	table map[Op]handlerFunc
}

// NewDispatcher builds the dispatch table over the engine.
func NewDispatcher(e *Engine) *Dispatcher {
	d := &Dispatcher{table: make(map[Op]handlerFunc)}

	d.table[OpMakeReservation] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(MakeReservationRequest)
		if !ok {
			return nil, badRequestShape(OpMakeReservation)
		}
		var strategy WindowStrategy = FixedBlock{}
		if r.Slots > 0 {
			strategy = SlotAligned{Slots: r.Slots}
		}
		return e.MakeReservation(ctx, r.SubscriberID, r.Start, strategy)
	}

	d.table[OpEnterSpontaneous] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(EnterSpontaneousRequest)
		if !ok {
			return nil, badRequestShape(OpEnterSpontaneous)
		}
		return e.EnterSpontaneous(ctx, r.SubscriberID)
	}

	d.table[OpEnterWithReservation] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(EnterWithReservationRequest)
		if !ok {
			return nil, badRequestShape(OpEnterWithReservation)
		}
		return e.EnterWithReservation(ctx, r.Code)
	}

	d.table[OpExit] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(ExitRequest)
		if !ok {
			return nil, badRequestShape(OpExit)
		}
		late, err := e.Exit(ctx, r.Code, r.SubscriberID)
		if err != nil {
			return nil, err
		}
		return ExitResult{Late: late}, nil
	}

	d.table[OpExtend] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(ExtendRequest)
		if !ok {
			return nil, badRequestShape(OpExtend)
		}
		newEnd, err := e.Extend(ctx, r.Code, r.Hours, r.SubscriberID)
		if err != nil {
			return nil, err
		}
		return ExtendResult{NewEstEnd: newEnd}, nil
	}

	d.table[OpCancel] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(CancelRequest)
		if !ok {
			return nil, badRequestShape(OpCancel)
		}
		if err := e.Cancel(ctx, r.Code, r.SubscriberID); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}

	d.table[OpAvailability] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(AvailabilityRequest)
		if !ok {
			return nil, badRequestShape(OpAvailability)
		}
		return e.Availability(ctx, r.Window)
	}

	d.table[OpHistory] = func(ctx context.Context, req any) (any, error) {
		r, ok := req.(HistoryRequest)
		if !ok {
			return nil, badRequestShape(OpHistory)
		}
		sessions, err := e.History(ctx, r.SubscriberID)
		if err != nil {
			return nil, err
		}
		return HistoryResult{Sessions: sessions}, nil
	}

	return d
}

// Do routes one request. Unknown operations and mismatched request
// shapes are validation failures, never panics.
func (d *Dispatcher) Do(ctx context.Context, op Op, req any) (any, error) {
	h, ok := d.table[op]
	if !ok {
		return nil, newError(KindValidation, "unknown operation %q", op)
	}
	return h(ctx, req)
}

func badRequestShape(op Op) error {
	return newError(KindValidation, "request shape does not match operation %q", op)
}
