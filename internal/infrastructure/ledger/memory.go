package ledger

import (
	"context"
	"fmt"
	"sync"

	"carboncred-backend/internal/pkg/wallet"

	"github.com/google/uuid"
)

// EscrowAccount holds listed amounts between list and release, mirroring the
// token contract holding its own balance in custody.
const EscrowAccount = "escrow"

// Memory is an in-process Gateway used in dev mode and tests. Listing ids are
// assigned monotonically; release flips Active atomically under the lock so a
// second release of the same listing cannot succeed.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	listings map[int64]*Listing
	nextID   int64

	// FailNext, when set, makes the next mutating call fail with the given
	// error and resets itself. Tests use it to exercise transient failures.
	FailNext error
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]int64),
		listings: make(map[int64]*Listing),
		nextID:   1,
	}
}

func (m *Memory) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func receipt() *Receipt {
	return &Receipt{TxHash: "0x" + uuid.New().String()}
}

func (m *Memory) Mint(ctx context.Context, account string, amount int64) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.balances[wallet.Normalize(account)] += amount
	return receipt(), nil
}

func (m *Memory) Burn(ctx context.Context, account string, amount int64) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	acct := wallet.Normalize(account)
	if m.balances[acct] < amount {
		return nil, &Error{Code: CodeInsufficientBalance, Op: "burn", Message: "Insufficient credits"}
	}
	m.balances[acct] -= amount
	return receipt(), nil
}

func (m *Memory) Transfer(ctx context.Context, from, to string, amount int64) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return m.transferLocked(from, to, amount, "transfer")
}

func (m *Memory) transferLocked(from, to string, amount int64, op string) (*Receipt, error) {
	src, dst := wallet.Normalize(from), wallet.Normalize(to)
	if m.balances[src] < amount {
		return nil, &Error{Code: CodeInsufficientBalance, Op: op, Message: "Insufficient credits"}
	}
	m.balances[src] -= amount
	m.balances[dst] += amount
	return receipt(), nil
}

func (m *Memory) BalanceOf(ctx context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[wallet.Normalize(account)], nil
}

func (m *Memory) CreateEscrowListing(ctx context.Context, seller string, amount, pricePerUnit int64, paymentRef string) (int64, *Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, nil, err
	}
	rcpt, err := m.transferLocked(seller, EscrowAccount, amount, "createEscrowListing")
	if err != nil {
		return 0, nil, err
	}
	id := m.nextID
	m.nextID++
	m.listings[id] = &Listing{
		ID:           id,
		Seller:       wallet.Normalize(seller),
		Amount:       amount,
		PricePerUnit: pricePerUnit,
		PaymentRef:   paymentRef,
		Active:       true,
	}
	return id, rcpt, nil
}

func (m *Memory) MarkPaid(ctx context.Context, listingID int64) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	l, ok := m.listings[listingID]
	if !ok {
		return nil, &Error{Code: CodeNotFound, Op: "markPaid", Message: fmt.Sprintf("listing %d", listingID)}
	}
	if !l.Active {
		return nil, &Error{Code: CodeUnauthorized, Op: "markPaid", Message: "listing is closed"}
	}
	l.IsPaid = true
	return receipt(), nil
}

func (m *Memory) ReleaseEscrow(ctx context.Context, listingID int64, buyer string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	l, ok := m.listings[listingID]
	if !ok {
		return nil, &Error{Code: CodeNotFound, Op: "releaseEscrow", Message: fmt.Sprintf("listing %d", listingID)}
	}
	if !l.Active {
		return nil, &Error{Code: CodeUnauthorized, Op: "releaseEscrow", Message: "listing is closed"}
	}
	if !l.IsPaid {
		return nil, &Error{Code: CodeUnauthorized, Op: "releaseEscrow", Message: "listing is not paid"}
	}
	rcpt, err := m.transferLocked(EscrowAccount, buyer, l.Amount, "releaseEscrow")
	if err != nil {
		return nil, err
	}
	l.Active = false
	return rcpt, nil
}

func (m *Memory) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return nil, &Error{Code: CodeNotFound, Op: "getListing", Message: fmt.Sprintf("listing %d", listingID)}
	}
	cp := *l
	return &cp, nil
}
