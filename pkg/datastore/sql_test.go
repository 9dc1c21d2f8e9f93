package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	"github.com/NicolasHaas/poolproxy/pkg/datastore"
	"github.com/NicolasHaas/poolproxy/pkg/model"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

// withStores runs fn against the SQLite store and the memory store.
func withStores(t *testing.T, fn func(t *testing.T, st datastore.DataProviderFactory)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		st, err := NewTestSqlConn(t)
		if err != nil {
			t.Fatalf("failed to open test connection: %v", err)
		}
		fn(t, st)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, datastore.NewMemory())
	})
}

var ignoreCreatedAt = cmpopts.IgnoreFields(model.PayoutRecord{}, "CreatedAt")

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestInsertThenFindUnpaid(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		rec := model.NewPayoutRecord("t1Address123", amount("0.00012345"))
		if err := st.NonTx().InsertPayout(ctx, rec); err != nil {
			t.Fatalf("InsertPayout: unexpected error: %v", err)
		}
		if rec.ID == 0 {
			t.Fatalf("InsertPayout: expected non-zero ID")
		}

		got, err := st.NonTx().FindPayouts(ctx, 0, model.Unpaid())
		if err != nil {
			t.Fatalf("FindPayouts: unexpected error: %v", err)
		}
		want := []model.PayoutRecord{*rec}
		if diff := cmp.Diff(want, got, ignoreCreatedAt); diff != "" {
			t.Errorf("FindPayouts mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestInsertPayoutValidation(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		tests := map[string]struct {
			rec     *model.PayoutRecord
			wantErr error
		}{
			"empty_address": {model.NewPayoutRecord("", amount("1")), model.ErrAddressEmpty},
			"negative":      {model.NewPayoutRecord("A", amount("-1")), model.ErrAmountNegative},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				if err := st.NonTx().InsertPayout(ctx, tc.rec); !errors.Is(err, tc.wantErr) {
					t.Fatalf("InsertPayout: got %v, want %v", err, tc.wantErr)
				}
			})
		}
	})
}

func TestFindPayoutsFilterAndLimit(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		processedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

		var recs []*model.PayoutRecord
		for i, addr := range []string{"A", "A", "B", "C"} {
			rec := model.NewPayoutRecord(addr, decimal.NewFromInt(int64(i+1)))
			if err := st.NonTx().InsertPayout(ctx, rec); err != nil {
				t.Fatalf("InsertPayout: %v", err)
			}
			recs = append(recs, rec)
		}
		recs[2].MarkProcessed("opid-1", processedAt)
		if err := st.NonTx().UpdatePayout(ctx, recs[2]); err != nil {
			t.Fatalf("UpdatePayout: %v", err)
		}

		unpaid, err := st.NonTx().FindPayouts(ctx, 0, model.Unpaid())
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if len(unpaid) != 3 {
			t.Fatalf("unpaid: got %d records, want 3", len(unpaid))
		}

		limited, err := st.NonTx().FindPayouts(ctx, 2, model.PayoutFilter{})
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if len(limited) != 2 || limited[0].ID != recs[0].ID || limited[1].ID != recs[1].ID {
			t.Fatalf("limit: got %+v", limited)
		}

		byOp, err := st.NonTx().FindPayouts(ctx, 1000, model.ByOperation("opid-1"))
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if diff := cmp.Diff([]model.PayoutRecord{*recs[2]}, byOp, ignoreCreatedAt); diff != "" {
			t.Errorf("by operation mismatch (-want +got):\n%s", diff)
		}

		addr := "A"
		byAddr, err := st.NonTx().FindPayouts(ctx, 0, model.PayoutFilter{Address: &addr})
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if len(byAddr) != 2 {
			t.Fatalf("by address: got %d records, want 2", len(byAddr))
		}
	})
}

func TestUpdatePayoutNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		rec := model.NewPayoutRecord("A", amount("1"))
		rec.ID = 999
		if err := st.NonTx().UpdatePayout(context.Background(), rec); !errors.Is(err, datastore.ErrNotFound) {
			t.Fatalf("UpdatePayout: got %v, want ErrNotFound", err)
		}
	})
}

func TestTxCommitAndRollback(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		rec := model.NewPayoutRecord("A", amount("2.5"))
		if err := st.NonTx().InsertPayout(ctx, rec); err != nil {
			t.Fatalf("InsertPayout: %v", err)
		}

		tx, err := st.Tx(ctx)
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}
		marked := *rec
		marked.MarkProcessed("opid-rollback", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		if err := tx.UpdatePayout(ctx, &marked); err != nil {
			t.Fatalf("tx.UpdatePayout: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("Rollback: %v", err)
		}

		unpaid, err := st.NonTx().FindPayouts(ctx, 0, model.Unpaid())
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if len(unpaid) != 1 {
			t.Fatalf("after rollback: got %d unpaid, want 1", len(unpaid))
		}

		tx, err = st.Tx(ctx)
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}
		marked.OperationID = "opid-commit"
		if err := tx.UpdatePayout(ctx, &marked); err != nil {
			t.Fatalf("tx.UpdatePayout: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		got, err := st.NonTx().FindPayouts(ctx, 0, model.ByOperation("opid-commit"))
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if diff := cmp.Diff([]model.PayoutRecord{marked}, got, ignoreCreatedAt); diff != "" {
			t.Errorf("after commit mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestConcurrentInserts(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataProviderFactory) {
		ctx := context.Background()
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- st.NonTx().InsertPayout(ctx, model.NewPayoutRecord("A", amount("0.00000001")))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("InsertPayout: %v", err)
			}
		}

		got, err := st.NonTx().FindPayouts(ctx, 0, model.Unpaid())
		if err != nil {
			t.Fatalf("FindPayouts: %v", err)
		}
		if len(got) != n {
			t.Fatalf("got %d records, want %d", len(got), n)
		}
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	if err := st.NonTx().InsertPayout(context.Background(), model.NewPayoutRecord("A", amount("1"))); err != nil {
		t.Fatalf("InsertPayout: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = st.Close() }()

	got, err := st.NonTx().FindPayouts(context.Background(), 0, model.PayoutFilter{})
	if err != nil {
		t.Fatalf("FindPayouts: %v", err)
	}
	if len(got) != 1 || got[0].Amount.String() != "1" {
		t.Fatalf("got %+v", got)
	}
}
