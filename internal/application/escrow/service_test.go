package escrow

import (
	"context"
	"sync"
	"testing"

	"carboncred-backend/internal/domain"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/infrastructure/store"
	"carboncred-backend/internal/pkg/keylock"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupEscrowTest(t *testing.T) (*Service, *ledger.Memory, *store.Companies) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Company{}, &domain.HistoryEntry{}))

	gw := ledger.NewMemory()
	companies := &store.Companies{DB: db}
	svc := &Service{
		Companies: companies,
		History:   &store.History{DB: db},
		Ledger:    gw,
		Locks:     keylock.New(),
	}
	return svc, gw, companies
}

func seedCompany(t *testing.T, companies *store.Companies, gw *ledger.Memory, name, addr string, balance int64) {
	t.Helper()
	require.NoError(t, companies.Create(context.Background(), &domain.Company{
		Name:          name,
		WalletAddress: addr,
		Allowance:     balance,
		NetSurplus:    balance,
		Status:        domain.StatusRegistered,
	}))
	if balance > 0 {
		_, err := gw.Mint(context.Background(), addr, balance)
		require.NoError(t, err)
	}
}

func TestCreateListing(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)

	res, err := svc.CreateListing(ctx, "TESLA", 100, 50, "https://upi.me/tesla")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ListingID)
	assert.NotEmpty(t, res.TxHash)

	escrowBal, _ := gw.BalanceOf(ctx, ledger.EscrowAccount)
	assert.Equal(t, int64(100), escrowBal)
}

func TestCreateListing_InsufficientIsPrecondition(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 40)

	_, err := svc.CreateListing(ctx, "TESLA", 100, 50, "ref")
	require.Error(t, err)
	pe, ok := domain.AsPrecondition(err)
	require.True(t, ok)
	assert.Equal(t, int64(60), pe.Shortfall)
}

func TestCreateListing_UnknownSeller(t *testing.T) {
	svc, _, _ := setupEscrowTest(t)
	_, err := svc.CreateListing(context.Background(), "NOBODY", 10, 5, "ref")
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)
}

func TestReleaseBeforeMarkPaidRejected(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)

	res, err := svc.CreateListing(ctx, "TESLA", 100, 50, "ref")
	require.NoError(t, err)

	_, err = svc.Release(ctx, res.ListingID, "0xBuyer")
	require.Error(t, err)
	pe, ok := domain.AsPrecondition(err)
	require.True(t, ok)
	assert.Contains(t, pe.Reason, "not been marked paid")

	// Listing untouched: still active, escrow custody intact.
	l, err := gw.GetListing(ctx, res.ListingID)
	require.NoError(t, err)
	assert.True(t, l.Active)
	escrowBal, _ := gw.BalanceOf(ctx, ledger.EscrowAccount)
	assert.Equal(t, int64(100), escrowBal)
}

func TestFullEscrowFlow(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyerABC", 10)

	listRes, err := svc.CreateListing(ctx, "TESLA", 100, 50, "https://upi.me/tesla")
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, listRes.ListingID, "TWITCH")
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)

	// Wallet lookup is case-insensitive.
	rel, err := svc.Release(ctx, listRes.ListingID, "0xBUYERabc")
	require.NoError(t, err)
	assert.False(t, rel.Active)
	assert.Equal(t, int64(100), rel.Amount)
	assert.Equal(t, "TWITCH", rel.Buyer)
	assert.Equal(t, int64(110), rel.NewAllowance)

	buyer, err := companies.FindByName(ctx, "TWITCH")
	require.NoError(t, err)
	assert.Equal(t, int64(110), buyer.Allowance)

	buyerBal, _ := gw.BalanceOf(ctx, "0xbuyerabc")
	assert.Equal(t, int64(110), buyerBal)
}

func TestMarkPaid_Idempotent(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)

	res, err := svc.CreateListing(ctx, "TESLA", 50, 10, "ref")
	require.NoError(t, err)

	first, err := svc.MarkPaid(ctx, res.ListingID, "TWITCH")
	require.NoError(t, err)
	assert.True(t, first.IsPaid)

	second, err := svc.MarkPaid(ctx, res.ListingID, "TWITCH")
	require.NoError(t, err)
	assert.True(t, second.IsPaid)
	assert.Empty(t, second.TxHash)
}

func TestRelease_SecondReleaseRejected(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)

	res, err := svc.CreateListing(ctx, "TESLA", 100, 50, "ref")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, res.ListingID, "TWITCH")
	require.NoError(t, err)
	_, err = svc.Release(ctx, res.ListingID, "0xBuyer")
	require.NoError(t, err)

	_, err = svc.Release(ctx, res.ListingID, "0xBuyer")
	require.Error(t, err)
	pe, ok := domain.AsPrecondition(err)
	require.True(t, ok)
	assert.Contains(t, pe.Reason, "no longer active")
}

func TestRelease_TransientFailureLeavesListingActive(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)

	res, err := svc.CreateListing(ctx, "TESLA", 100, 50, "ref")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, res.ListingID, "TWITCH")
	require.NoError(t, err)

	gw.FailNext = &ledger.Error{Code: ledger.CodeTimeout, Op: "releaseEscrow"}
	_, err = svc.Release(ctx, res.ListingID, "0xBuyer")
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))

	// Safe to retry: listing unchanged, buyer record unchanged.
	buyer, _ := companies.FindByName(ctx, "TWITCH")
	assert.Equal(t, int64(0), buyer.Allowance)

	rel, err := svc.Release(ctx, res.ListingID, "0xBuyer")
	require.NoError(t, err)
	assert.False(t, rel.Active)
}

func TestRelease_UnknownBuyerWallet(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)

	res, err := svc.CreateListing(ctx, "TESLA", 50, 10, "ref")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, res.ListingID, "TESLA")
	require.NoError(t, err)

	_, err = svc.Release(ctx, res.ListingID, "0xStranger")
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)
}

func TestRelease_DeficitBuyerRecordsDeficitPurchase(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()
	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)
	required := int64(160)
	require.NoError(t, companies.UpdateFields(ctx, "TWITCH", map[string]interface{}{
		"status":        domain.StatusDeficit,
		"required_burn": required,
		"deficit":       int64(60),
	}))

	res, err := svc.CreateListing(ctx, "TESLA", 60, 10, "ref")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, res.ListingID, "TWITCH")
	require.NoError(t, err)
	rel, err := svc.Release(ctx, res.ListingID, "0xBuyer")
	require.NoError(t, err)
	assert.Equal(t, int64(60), rel.Amount)

	history := &store.History{DB: companies.DB}
	entries, err := history.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionDeficitPurchase, entries[0].ActionType)
}

func TestMarkPaid_UnknownListing(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)
	_, err := svc.MarkPaid(context.Background(), 404, "TWITCH")
	assert.ErrorIs(t, err, domain.ErrListingNotFound)
}

// rendezvousGateway holds every release at a shared barrier so overlapping
// releases reach the record store together.
type rendezvousGateway struct {
	*ledger.Memory
	barrier *sync.WaitGroup
}

func (g *rendezvousGateway) ReleaseEscrow(ctx context.Context, listingID int64, buyer string) (*ledger.Receipt, error) {
	g.barrier.Done()
	g.barrier.Wait()
	return g.Memory.ReleaseEscrow(ctx, listingID, buyer)
}

func TestRelease_ConcurrentReleasesSameBuyer(t *testing.T) {
	svc, gw, companies := setupEscrowTest(t)
	ctx := context.Background()

	sqlDB, err := companies.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	seedCompany(t, companies, gw, "TESLA", "0xSeller", 100)
	seedCompany(t, companies, gw, "TWITCH", "0xBuyer", 0)

	first, err := svc.CreateListing(ctx, "TESLA", 30, 10, "ref-a")
	require.NoError(t, err)
	second, err := svc.CreateListing(ctx, "TESLA", 20, 10, "ref-b")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, first.ListingID, "TWITCH")
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, second.ListingID, "TWITCH")
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	svc.Ledger = &rendezvousGateway{Memory: gw, barrier: &barrier}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []int64{first.ListingID, second.ListingID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.Release(ctx, id, "0xBuyer")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Both increments must survive; neither release may overwrite the other.
	buyer, err := companies.FindByName(ctx, "TWITCH")
	require.NoError(t, err)
	assert.Equal(t, int64(50), buyer.Allowance)
	assert.Equal(t, int64(50), buyer.NetSurplus)

	bal, _ := gw.BalanceOf(ctx, "0xBuyer")
	assert.Equal(t, int64(50), bal)
}
