package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NicolasHaas/poolproxy/pkg/datastore"
	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// ErrNothingToSend means the send phase found no payable recipient.
var ErrNothingToSend = errors.New("payout: nothing to send")

// Disburser is the coin daemon's batched-send interface.
type Disburser interface {
	SendMany(ctx context.Context, from string, recipients []model.Recipient, minConf int, fee decimal.Decimal) (string, error)
	OperationResults(ctx context.Context) ([]model.Operation, error)
}

// InputFinder chooses the address a batched send debits from.
type InputFinder interface {
	FindInputs(ctx context.Context) (string, error)
}

// StaticInput always debits the same configured address.
type StaticInput string

func (s StaticInput) FindInputs(_ context.Context) (string, error) {
	return string(s), nil
}

// DaemonConfig controls the payout daemon.
type DaemonConfig struct {
	Interval         time.Duration   // target spacing between cycle starts
	SendingFee       decimal.Decimal // flat network fee per batched send
	MinConfirmations int             // passed through to the send
	FindLimit        int             // max records read per operation during reconcile
}

// Daemon runs the send and reconcile phases on a fixed-delay loop.
type Daemon struct {
	cfg    DaemonConfig
	store  datastore.DataProviderFactory
	rpc    Disburser
	inputs InputFinder
	now    func() time.Time
}

// NewDaemon creates a Daemon.
func NewDaemon(cfg DaemonConfig, store datastore.DataProviderFactory, rpc Disburser, inputs InputFinder) *Daemon {
	if cfg.FindLimit <= 0 {
		cfg.FindLimit = 1000
	}
	return &Daemon{
		cfg:    cfg,
		store:  store,
		rpc:    rpc,
		inputs: inputs,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SendPayouts aggregates every unpaid record, sends one batch and marks the
// included records processed under the returned operation id.
func (d *Daemon) SendPayouts(ctx context.Context) (string, error) {
	unpaid, err := d.store.NonTx().FindPayouts(ctx, 0, model.Unpaid())
	if err != nil {
		return "", fmt.Errorf("payout: read unpaid: %w", err)
	}

	send, deferred := ApplyFee(BuildSendList(unpaid), d.cfg.SendingFee)
	if len(deferred) > 0 {
		slog.Info("deferring recipients below fee share", "count", len(deferred), "addresses", deferred)
	}
	if len(send) == 0 {
		return "", ErrNothingToSend
	}

	from, err := d.inputs.FindInputs(ctx)
	if err != nil {
		return "", fmt.Errorf("payout: find inputs: %w", err)
	}

	opid, err := d.rpc.SendMany(ctx, from, send, d.cfg.MinConfirmations, d.cfg.SendingFee)
	if err != nil {
		return "", fmt.Errorf("payout: send: %w", err)
	}
	slog.Info("batched send submitted", "operation", opid, "from", from, "recipients", len(send))

	included := make(map[string]bool, len(send))
	for _, r := range send {
		included[r.Address] = true
	}
	if err := d.markProcessed(ctx, unpaid, included, opid); err != nil {
		// The send is already out; these records would be paid twice next cycle.
		slog.Error("send succeeded but records were not marked", "operation", opid, "err", err)
		return opid, err
	}
	return opid, nil
}

func (d *Daemon) markProcessed(ctx context.Context, records []model.PayoutRecord, included map[string]bool, opid string) error {
	tx, err := d.store.Tx(ctx)
	if err != nil {
		return fmt.Errorf("payout: mark processed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := d.now()
	for i := range records {
		rec := &records[i]
		if !included[rec.Address] {
			continue
		}
		rec.MarkProcessed(opid, at)
		if err := tx.UpdatePayout(ctx, rec); err != nil {
			return fmt.Errorf("payout: mark processed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("payout: mark processed: commit: %w", err)
	}
	return nil
}

// UpdatePayouts writes transaction ids back onto records whose operation
// completed, and returns records of failed operations to the unpaid pool.
func (d *Daemon) UpdatePayouts(ctx context.Context) error {
	ops, err := d.rpc.OperationResults(ctx)
	if err != nil {
		return fmt.Errorf("payout: operation results: %w", err)
	}

	for _, op := range ops {
		switch {
		case op.Succeeded():
			if err := d.applyOperation(ctx, op.ID, func(rec *model.PayoutRecord) {
				rec.TransactionID = op.Result.TxID
			}); err != nil {
				return err
			}
			slog.Info("operation confirmed", "operation", op.ID, "txid", op.Result.TxID)
		case op.Failed():
			if err := d.applyOperation(ctx, op.ID, (*model.PayoutRecord).Reset); err != nil {
				return err
			}
			reason := ""
			if op.Error != nil {
				reason = op.Error.Message
			}
			slog.Warn("operation failed, records returned to unpaid", "operation", op.ID, "reason", reason)
		default:
			slog.Debug("operation not finished", "operation", op.ID, "status", op.Status)
		}
	}
	return nil
}

func (d *Daemon) applyOperation(ctx context.Context, opid string, apply func(*model.PayoutRecord)) error {
	records, err := d.store.NonTx().FindPayouts(ctx, d.cfg.FindLimit, model.ByOperation(opid))
	if err != nil {
		return fmt.Errorf("payout: find operation %s: %w", opid, err)
	}
	for i := range records {
		apply(&records[i])
		if err := d.store.NonTx().UpdatePayout(ctx, &records[i]); err != nil {
			return fmt.Errorf("payout: update operation %s: %w", opid, err)
		}
	}
	return nil
}

// RunCycle runs the send phase and then the reconcile phase. A send failure
// skips reconcile; having nothing to send does not.
func (d *Daemon) RunCycle(ctx context.Context) error {
	if _, err := d.SendPayouts(ctx); err != nil && !errors.Is(err, ErrNothingToSend) {
		return err
	}
	return d.UpdatePayouts(ctx)
}

// NextDelay is the pause after a cycle that took elapsed: the rest of the
// interval, or zero when the cycle overran it.
func NextDelay(interval, elapsed time.Duration) time.Duration {
	if wait := interval - elapsed; wait > 0 {
		return wait
	}
	return 0
}

// Run loops until ctx is cancelled. Cycle failures are logged and the next
// cycle re-reads everything still unpaid.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("payout daemon running", "interval", d.cfg.Interval, "fee", model.FormatAmount(d.cfg.SendingFee))
	for {
		start := time.Now()
		if err := d.RunCycle(ctx); err != nil {
			slog.Error("payout cycle failed", "err", err)
		}

		timer := time.NewTimer(NextDelay(d.cfg.Interval, time.Since(start)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
