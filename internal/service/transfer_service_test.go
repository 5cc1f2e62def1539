package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"retailledger/internal/model"
	"retailledger/internal/service"
	"retailledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTransfer_ConservesBalance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := testutil.CreateAccount(t, e.db, "alice", 100)
	dst := testutil.CreateAccount(t, e.db, "bob", 50)

	entry, err := e.transfers.Transfer(ctx, &service.TransferRequest{
		Principal:            "alice",
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		Amount:               dec(30),
	})
	require.NoError(t, err)

	assertBalance(t, e, src.ID, 70)
	assertBalance(t, e, dst.ID, 80)
	assert.Equal(t, model.EntryKindTransfer, entry.Kind)
	assert.Equal(t, model.EntryStatusCompleted, entry.Status)
	assert.Equal(t, "Transfer", entry.Memo)
	assert.Equal(t, src.ID, *entry.SourceAccountID)
	assert.Equal(t, dst.ID, *entry.DestinationAccountID)

	events := outbox(t, e, "ledger.entries")
	require.Len(t, events, 1)
	assert.Equal(t, entry.EntryNo, events[0].MessageKey)
	assert.Contains(t, events[0].Payload, `"kind":"transfer"`)
}

func TestTransfer_ByDestinationNumber(t *testing.T) {
	e := newEnv(t)
	src := testutil.CreateAccount(t, e.db, "alice", 100)
	dst := testutil.CreateAccount(t, e.db, "bob", 0)

	memo := testutil.Memo()
	entry, err := e.transfers.Transfer(context.Background(), &service.TransferRequest{
		Principal:         "alice",
		SourceAccountID:   src.ID,
		DestinationNumber: dst.AccountNumber,
		Amount:            dec(25),
		Memo:              memo,
	})
	require.NoError(t, err)
	assert.Equal(t, memo, entry.Memo)
	assertBalance(t, e, dst.ID, 25)
}

func TestTransfer_SelfTransferBetweenOwnAccounts(t *testing.T) {
	e := newEnv(t)
	checking := testutil.CreateAccount(t, e.db, "alice", 100)
	savings := testutil.CreateAccount(t, e.db, "alice", 0, testutil.WithType(model.AccountTypeSavings))

	_, err := e.transfers.Transfer(context.Background(), &service.TransferRequest{
		Principal:            "alice",
		SourceAccountID:      checking.ID,
		DestinationAccountID: savings.ID,
		Amount:               dec(40),
	})
	require.NoError(t, err)
	assertBalance(t, e, savings.ID, 40)
}

func TestTransfer_PreconditionsLeaveNoTrace(t *testing.T) {
	e := newEnv(t)
	src := testutil.CreateAccount(t, e.db, "alice", 100)
	dst := testutil.CreateAccount(t, e.db, "bob", 0)
	frozenSrc := testutil.CreateAccount(t, e.db, "alice", 100, testutil.WithStatus(model.AccountStatusFrozen))
	frozenDst := testutil.CreateAccount(t, e.db, "carol", 0, testutil.WithStatus(model.AccountStatusFrozen))

	tests := []struct {
		name string
		req  service.TransferRequest
		want error
	}{
		{"zero amount", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec(0)}, service.ErrInvalidAmount},
		{"negative amount", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec(-5)}, service.ErrInvalidAmount},
		{"sub-cent amount", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: decStr("0.001")}, service.ErrInvalidAmount},
		{"three decimal places", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: decStr("10.555")}, service.ErrInvalidAmount},
		{"unknown source", service.TransferRequest{Principal: "alice", SourceAccountID: 99999, DestinationAccountID: dst.ID, Amount: dec(5)}, service.ErrAccountNotFound},
		{"not the owner", service.TransferRequest{Principal: "mallory", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec(5)}, service.ErrAccountNotFound},
		{"frozen source", service.TransferRequest{Principal: "alice", SourceAccountID: frozenSrc.ID, DestinationAccountID: dst.ID, Amount: dec(5)}, service.ErrAccountInactive},
		{"insufficient", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: dec(101)}, service.ErrInsufficientFunds},
		{"unknown destination id", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: 99999, Amount: dec(5)}, service.ErrDestinationNotFound},
		{"unknown destination number", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationNumber: "0000000001", Amount: dec(5)}, service.ErrDestinationNotFound},
		{"frozen destination", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: frozenDst.ID, Amount: dec(5)}, service.ErrDestinationInactive},
		{"source checked before destination", service.TransferRequest{Principal: "alice", SourceAccountID: frozenSrc.ID, DestinationNumber: "0000000001", Amount: dec(5)}, service.ErrAccountInactive},
		{"balance checked before destination", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: frozenDst.ID, Amount: dec(500)}, service.ErrInsufficientFunds},
		{"same account", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationAccountID: src.ID, Amount: dec(5)}, service.ErrSameAccount},
		{"same account by number", service.TransferRequest{Principal: "alice", SourceAccountID: src.ID, DestinationNumber: src.AccountNumber, Amount: dec(5)}, service.ErrSameAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := e.transfers.Transfer(context.Background(), &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assertBalance(t, e, src.ID, 100)
	assertBalance(t, e, dst.ID, 0)
	assertBalance(t, e, frozenSrc.ID, 100)
	assert.Zero(t, testutil.CountEntries(t, e.db))
	assert.Empty(t, outbox(t, e, "ledger.entries"))
}

func TestDepositAndWithdraw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, e.db, "alice", 0)

	dep, err := e.transfers.Deposit(ctx, &service.TransferRequest{Principal: "alice", SourceAccountID: acc.ID, Amount: dec(120)})
	require.NoError(t, err)
	assert.Equal(t, "Deposit", dep.Memo)
	assert.Equal(t, acc.ID, *dep.SourceAccountID)
	assert.Equal(t, acc.ID, *dep.DestinationAccountID)
	assertBalance(t, e, acc.ID, 120)

	wd, err := e.transfers.Withdraw(ctx, &service.TransferRequest{Principal: "alice", SourceAccountID: acc.ID, Amount: dec(20)})
	require.NoError(t, err)
	assert.Equal(t, "Withdrawal", wd.Memo)
	assertBalance(t, e, acc.ID, 100)

	_, err = e.transfers.Withdraw(ctx, &service.TransferRequest{Principal: "alice", SourceAccountID: acc.ID, Amount: dec(101)})
	assert.ErrorIs(t, err, service.ErrInsufficientFunds)
	assertBalance(t, e, acc.ID, 100)

	_, err = e.transfers.Deposit(ctx, &service.TransferRequest{Principal: "bob", SourceAccountID: acc.ID, Amount: dec(5)})
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestDeposit_FrozenAccount(t *testing.T) {
	e := newEnv(t)
	acc := testutil.CreateAccount(t, e.db, "alice", 0, testutil.WithStatus(model.AccountStatusFrozen))

	_, err := e.transfers.Deposit(context.Background(), &service.TransferRequest{Principal: "alice", SourceAccountID: acc.ID, Amount: dec(5)})
	assert.ErrorIs(t, err, service.ErrAccountInactive)
}

func TestWithdraw_ConcurrentDebitRace(t *testing.T) {
	e := newEnv(t)
	acc := testutil.CreateAccount(t, e.db, "alice", 100)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.transfers.Withdraw(context.Background(), &service.TransferRequest{
				Principal:       "alice",
				SourceAccountID: acc.ID,
				Amount:          dec(60),
			})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, service.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assertBalance(t, e, acc.ID, 40)
	assert.Equal(t, int64(1), testutil.CountEntries(t, e.db))
}

func TestTransfer_OppositeDirectionsDoNotDeadlock(t *testing.T) {
	e := newEnv(t)
	a := testutil.CreateAccount(t, e.db, "alice", 500)
	b := testutil.CreateAccount(t, e.db, "bob", 500)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &service.TransferRequest{Principal: "alice", SourceAccountID: a.ID, DestinationAccountID: b.ID, Amount: dec(7)}
			if i%2 == 1 {
				req = &service.TransferRequest{Principal: "bob", SourceAccountID: b.ID, DestinationAccountID: a.ID, Amount: dec(3)}
			}
			_, err := e.transfers.Transfer(context.Background(), req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assertBalance(t, e, a.ID, 500-10*7+10*3)
	assertBalance(t, e, b.ID, 500+10*7-10*3)
}

func TestTransfer_RequestIDIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := testutil.CreateAccount(t, e.db, "alice", 100)
	dst := testutil.CreateAccount(t, e.db, "bob", 0)

	req := func() *service.TransferRequest {
		return &service.TransferRequest{
			RequestID:            "req-1",
			Principal:            "alice",
			SourceAccountID:      src.ID,
			DestinationAccountID: dst.ID,
			Amount:               dec(10),
		}
	}
	first, err := e.transfers.Transfer(ctx, req())
	require.NoError(t, err)
	second, err := e.transfers.Transfer(ctx, req())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assertBalance(t, e, src.ID, 90)
	assert.Equal(t, int64(1), testutil.CountEntries(t, e.db))
}

func TestTransfer_RequestIDScopedToMovement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := testutil.CreateAccount(t, e.db, "alice", 500)
	bob := testutil.CreateAccount(t, e.db, "bob", 500)

	first, err := e.transfers.Withdraw(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "alice", SourceAccountID: alice.ID, Amount: dec(100),
	})
	require.NoError(t, err)

	entry, err := e.transfers.Deposit(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "bob", SourceAccountID: bob.ID, Amount: dec(50),
	})
	assert.ErrorIs(t, err, service.ErrRequestConflict)
	assert.Nil(t, entry)
	assertBalance(t, e, bob.ID, 500)

	// Same caller and account, different movement.
	_, err = e.transfers.Withdraw(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "alice", SourceAccountID: alice.ID, Amount: dec(60),
	})
	assert.ErrorIs(t, err, service.ErrRequestConflict)
	_, err = e.transfers.Deposit(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "alice", SourceAccountID: alice.ID, Amount: dec(100),
	})
	assert.ErrorIs(t, err, service.ErrRequestConflict)

	// Naming the owner's account does not hand the entry to someone else.
	_, err = e.transfers.Withdraw(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "bob", SourceAccountID: alice.ID, Amount: dec(100),
	})
	assert.ErrorIs(t, err, service.ErrRequestConflict)

	again, err := e.transfers.Withdraw(ctx, &service.TransferRequest{
		RequestID: "r1", Principal: "alice", SourceAccountID: alice.ID, Amount: dec(100),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	assertBalance(t, e, alice.ID, 400)
	assert.Equal(t, int64(1), testutil.CountEntries(t, e.db))
}

func TestRunLocked_RollsBackEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := testutil.CreateAccount(t, e.db, "alice", 100)
	dst := testutil.CreateAccount(t, e.db, "bob", 0)
	boom := errors.New("boom")

	err := e.transfers.RunLocked(ctx, []int64{src.ID, dst.ID}, func(tx *gorm.DB) error {
		_, err := e.transfers.ExecuteTx(ctx, tx, &service.TransferRequest{
			SourceAccountID:      src.ID,
			DestinationAccountID: dst.ID,
			Amount:               dec(60),
			Kind:                 model.EntryKindTransfer,
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assertBalance(t, e, src.ID, 100)
	assertBalance(t, e, dst.ID, 0)
	assert.Zero(t, testutil.CountEntries(t, e.db))
	assert.Empty(t, outbox(t, e, "ledger.entries"))
}

func TestExecuteTx_RejectsUnknownKind(t *testing.T) {
	e := newEnv(t)
	acc := testutil.CreateAccount(t, e.db, "alice", 100)

	_, err := e.transfers.Execute(context.Background(), &service.TransferRequest{
		SourceAccountID: acc.ID,
		Amount:          dec(1),
		Kind:            "refund",
	})
	assert.ErrorIs(t, err, service.ErrInvalidKind)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "InsufficientFunds", service.FailureReason(service.ErrInsufficientFunds))
	assert.Equal(t, "RecipientNotFound", service.FailureReason(service.ErrRecipientNotFound))
	assert.Equal(t, "AccountInactive", service.FailureReason(errors.Join(errors.New("x"), service.ErrAccountInactive)))
	assert.Equal(t, "InternalError", service.FailureReason(errors.New("disk full")))
}
