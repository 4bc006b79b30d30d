// internal/payments/fake.go
package payments

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/javajoker/escrowpay/internal/escrow"
)

// Call records one provider invocation for assertions in tests.
type Call struct {
	Op             string
	Amount         int64
	Reference      string
	IdempotencyKey string
}

// FakeProvider is an in-memory Provider for tests. It honors idempotency
// keys: a retried key returns the original reference without recording a
// second money movement.
type FakeProvider struct {
	mu    sync.Mutex
	calls []Call
	byKey map[string]string
	seq   int

	ChargeErr   error
	TransferErr error
	RefundErr   error

	// Hooks run at the start of the matching call, before any movement is
	// recorded, so tests can interleave a competing operation at an exact
	// point.
	ChargeHook   func()
	TransferHook func()
	RefundHook   func()
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{byKey: make(map[string]string)}
}

func (f *FakeProvider) Charge(buyerID uuid.UUID, amount int64, idempotencyKey string) (string, error) {
	if f.ChargeHook != nil {
		f.ChargeHook()
	}
	if f.ChargeErr != nil {
		return "", &escrow.ProviderError{Op: "charge", IdempotencyKey: idempotencyKey, Err: f.ChargeErr}
	}
	return f.apply("charge", amount, "", idempotencyKey), nil
}

func (f *FakeProvider) Transfer(sellerID uuid.UUID, amount int64, chargeRef, idempotencyKey string) (string, error) {
	if f.TransferHook != nil {
		f.TransferHook()
	}
	if f.TransferErr != nil {
		return "", &escrow.ProviderError{Op: "transfer", IdempotencyKey: idempotencyKey, Err: f.TransferErr}
	}
	return f.apply("transfer", amount, chargeRef, idempotencyKey), nil
}

func (f *FakeProvider) Refund(chargeRef string, amount int64, idempotencyKey string) (string, error) {
	if f.RefundHook != nil {
		f.RefundHook()
	}
	if f.RefundErr != nil {
		return "", &escrow.ProviderError{Op: "refund", IdempotencyKey: idempotencyKey, Err: f.RefundErr}
	}
	return f.apply("refund", amount, chargeRef, idempotencyKey), nil
}

func (f *FakeProvider) apply(op string, amount int64, ref, idempotencyKey string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.byKey[idempotencyKey]; ok {
		return existing
	}

	f.seq++
	id := fmt.Sprintf("%s_%04d", op, f.seq)
	f.byKey[idempotencyKey] = id
	f.calls = append(f.calls, Call{Op: op, Amount: amount, Reference: ref, IdempotencyKey: idempotencyKey})
	return id
}

// Calls returns a copy of the recorded money movements.
func (f *FakeProvider) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor filters recorded calls by operation.
func (f *FakeProvider) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
