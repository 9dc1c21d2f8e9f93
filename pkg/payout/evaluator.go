package payout

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// DifficultyOracle reports the current network difficulty.
type DifficultyOracle interface {
	Difficulty(ctx context.Context) (*big.Rat, error)
}

// PayoutInserter is the slice of the payout store the evaluator writes to.
type PayoutInserter interface {
	InsertPayout(ctx context.Context, rec *model.PayoutRecord) error
}

// Observer is told about every evaluation outcome. Implementations must be
// safe for concurrent use.
type Observer interface {
	PayoutRecorded(rec *model.PayoutRecord)
	EvaluationFailed(err error)
}

// Share is an acknowledged submit together with the session state it was
// accepted under.
type Share struct {
	Session  string
	SubmitID string
	Address  string
	Target   *big.Int
}

// Evaluator converts acknowledged shares into stored payout records.
type Evaluator struct {
	oracle   DifficultyOracle
	store    PayoutInserter
	params   ShareParams
	timeout  time.Duration
	observer Observer

	wg sync.WaitGroup
}

// EvaluatorDeps holds the evaluator's collaborators. Observer may be nil.
type EvaluatorDeps struct {
	Oracle   DifficultyOracle
	Store    PayoutInserter
	Observer Observer
}

// NewEvaluator creates an Evaluator. A zero timeout means 30s.
func NewEvaluator(params ShareParams, timeout time.Duration, deps EvaluatorDeps) *Evaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{
		oracle:   deps.Oracle,
		store:    deps.Store,
		params:   params,
		timeout:  timeout,
		observer: deps.Observer,
	}
}

// Evaluate fetches the network difficulty, values the share and stores an
// unprocessed record for it.
func (e *Evaluator) Evaluate(ctx context.Context, share Share) (*model.PayoutRecord, error) {
	if share.Address == "" {
		return nil, ErrNoAddress
	}
	if share.Target == nil {
		return nil, ErrNoTarget
	}

	difficulty, err := e.oracle.Difficulty(ctx)
	if err != nil {
		return nil, fmt.Errorf("payout: get difficulty: %w", err)
	}

	amount, err := ShareValue(difficulty, share.Target, e.params)
	if err != nil {
		return nil, err
	}

	rec := model.NewPayoutRecord(share.Address, amount)
	if err := e.store.InsertPayout(ctx, rec); err != nil {
		return nil, fmt.Errorf("payout: insert: %w", err)
	}

	slog.Info("payout recorded",
		"session", share.Session,
		"address", rec.Address,
		"amount", model.FormatAmount(rec.Amount),
		"difficulty", difficulty.FloatString(4),
	)
	return rec, nil
}

// Submit evaluates the share in the background. The evaluation is detached
// from the caller: closing the session does not cancel it. Outcomes go to
// the log and the Observer.
func (e *Evaluator) Submit(share Share) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		rec, err := e.Evaluate(ctx, share)
		if err != nil {
			slog.Warn("share evaluation failed",
				"session", share.Session,
				"submit", share.SubmitID,
				"address", share.Address,
				"err", err,
			)
			if e.observer != nil {
				e.observer.EvaluationFailed(err)
			}
			return
		}
		if e.observer != nil {
			e.observer.PayoutRecorded(rec)
		}
	}()
}

// Wait blocks until every submitted evaluation has finished.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}
