package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/pkg/utils"
)

const ethUSD = "ETH/USD"

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	governance = common.HexToAddress("0x000000000000000000000000000000000000d001")
	vaultAddr  = common.HexToAddress("0x000000000000000000000000000000000000feed")
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000e001")
	fundAddr   = common.HexToAddress("0x000000000000000000000000000000000000f001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	keeper     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

// ============ stubFeed ============

type stubFeed struct {
	mu     sync.Mutex
	prices map[string]oracle.PriceData
	twap   map[string]decimal.Decimal
}

func newStubFeed() *stubFeed {
	return &stubFeed{
		prices: make(map[string]oracle.PriceData),
		twap:   make(map[string]decimal.Decimal),
	}
}

func (f *stubFeed) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = oracle.PriceData{Price: dec(price), Timestamp: t0, Confidence: 100, IsValid: true}
}

func (f *stubFeed) invalidate(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prices[symbol]
	p.IsValid = false
	f.prices[symbol] = p
}

func (f *stubFeed) setTWAP(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.twap[symbol] = dec(price)
}

func (f *stubFeed) GetPrice(_ context.Context, symbol string) (oracle.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return oracle.PriceData{}, oracle.ErrUnknownSymbol
	}
	return p, nil
}

func (f *stubFeed) GetTWAP(_ context.Context, symbol string, _ time.Duration) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.twap[symbol]
	if !ok {
		return decimal.Zero, oracle.ErrNoPriceHistory
	}
	return p, nil
}

// ============ stubFund ============

// stubFund принимает взносы переводом токена на fundAddr
type stubFund struct {
	token    ledger.Token
	mu       sync.Mutex
	received decimal.Decimal
	claims   []*models.InsuranceClaim
	limit    decimal.Decimal
}

func (f *stubFund) Contribute(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if err := f.token.Transfer(ctx, from, fundAddr, amount); err != nil {
		return err
	}
	f.mu.Lock()
	f.received = f.received.Add(amount)
	f.mu.Unlock()
	return nil
}

func (f *stubFund) Refund(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if err := f.token.Transfer(ctx, fundAddr, to, amount); err != nil {
		return err
	}
	f.mu.Lock()
	f.received = f.received.Sub(amount)
	f.mu.Unlock()
	return nil
}

func (f *stubFund) SubmitClaim(_ context.Context, claimant common.Address, amount decimal.Decimal, reason string) (*models.InsuranceClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &models.InsuranceClaim{
		ID:       uint64(len(f.claims) + 1),
		Claimant: claimant,
		Amount:   amount,
		Reason:   reason,
		Status:   models.ClaimPending,
	}
	f.claims = append(f.claims, c)
	return c, nil
}

func (f *stubFund) MaxClaimAmount(context.Context) (decimal.Decimal, error) {
	return f.limit, nil
}

// ============ harness ============

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *utils.ManualClock
	token  *ledger.MemoryToken
	vault  *ledger.Vault
	feed   *stubFeed
	fund   *stubFund
	sink   *RecordingSink
	engine *TradingEngine
}

func newHarness(t *testing.T, tweak ...func(*Deps)) *harness {
	t.Helper()

	clock := utils.NewManualClock(t0)
	token := ledger.NewMemoryToken()
	token.Mint(alice, dec("100000"))
	token.Mint(bob, dec("100000"))

	vault := ledger.NewVault(token, vaultAddr)
	feed := newStubFeed()
	feed.set(ethUSD, "2000")
	fund := &stubFund{token: token, limit: dec("1000")}
	sink := &RecordingSink{}

	cfg := DefaultConfig()
	cfg.Governance = governance
	cfg.EngineAddress = engineAddr

	deps := Deps{
		Config:    cfg,
		Vault:     vault,
		Feed:      feed,
		Insurance: fund,
		Sink:      sink,
		Clock:     clock,
	}
	for _, fn := range tweak {
		fn(&deps)
	}

	e, err := NewTradingEngine(deps)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		token:  token,
		vault:  vault,
		feed:   feed,
		fund:   fund,
		sink:   sink,
		engine: e,
	}
	_, err = e.AddMarket(h.ctx, governance, ethUSD, 20)
	require.NoError(t, err)
	_, err = e.RegisterLiquidator(h.ctx, keeper)
	require.NoError(t, err)
	return h
}

// open открывает позицию и требует успеха
func (h *harness) open(trader common.Address, size, collateral string, isLong bool) *models.Position {
	h.t.Helper()
	p, err := h.engine.OpenPosition(h.ctx, trader, ethUSD, dec(size), dec(collateral), isLong, 0)
	require.NoError(h.t, err)
	return p
}

func (h *harness) balance(addr common.Address) decimal.Decimal {
	h.t.Helper()
	b, err := h.token.BalanceOf(h.ctx, addr)
	require.NoError(h.t, err)
	return b
}

func (h *harness) requireSolvent() {
	h.t.Helper()
	require.NoError(h.t, h.engine.CheckSolvency(h.ctx))
}
