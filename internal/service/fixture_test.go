package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/ledger"
	"perpetual/internal/oracle"
	"perpetual/pkg/utils"
)

const ethUSD = "ETH/USD"

var (
	t0         = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	governance = common.HexToAddress("0x000000000000000000000000000000000000d001")
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000e001")
	fundAddr   = common.HexToAddress("0x000000000000000000000000000000000000f001")
	vaultAddr  = common.HexToAddress("0x000000000000000000000000000000000000feed")
	botAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stack - движок со всеми зависимостями в памяти
type stack struct {
	t          *testing.T
	ctx        context.Context
	clock      *utils.ManualClock
	token      *ledger.MemoryToken
	price      *oracle.ManualSource
	prices     *oracle.Aggregator
	fund       *insurance.Fund
	engine     *engine.TradingEngine
	bot        *keeper.LiquidationBot
	events     *EventService
	markets    *MockMarketRepository
	positions  *MockPositionRepository
	trading    *TradingService
	governance *GovernanceService
}

func newStack(t *testing.T, markets *MockMarketRepository) *stack {
	t.Helper()
	ctx := context.Background()
	clock := utils.NewManualClock(t0)
	token := ledger.NewMemoryToken()
	token.Mint(alice, dec("10000"))
	token.Mint(bob, dec("10000"))

	price := oracle.NewManualSource("manual", clock)
	price.SetPrice(ethUSD, dec("2000"), 100)
	prices, err := oracle.NewAggregator(oracle.DefaultConfig(), clock, nil)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	if err := prices.AddSource(price, 1); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	if markets == nil {
		markets = NewMockMarketRepository()
	}
	positions := NewMockPositionRepository()
	events := NewEventService(NewMockEventRepository(), positions, markets, 256, nil)

	fund := insurance.NewFund(insurance.Config{Governance: governance, Address: fundAddr}, token, clock, nil, events)

	ecfg := engine.DefaultConfig()
	ecfg.Governance = governance
	ecfg.EngineAddress = engineAddr
	eng, err := engine.NewTradingEngine(engine.Deps{
		Config:    ecfg,
		Vault:     ledger.NewVault(token, vaultAddr),
		Feed:      prices,
		Insurance: fund,
		Sink:      events,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("NewTradingEngine: %v", err)
	}
	events.SetStateReader(eng)
	fund.SetExposureProvider(eng.TotalExposure)

	kcfg := keeper.DefaultConfig()
	kcfg.Address = botAddr
	bot, err := keeper.NewLiquidationBot(kcfg, eng, token, clock, nil)
	if err != nil {
		t.Fatalf("NewLiquidationBot: %v", err)
	}
	if err := bot.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	runner := keeper.NewRunner(bot, keeper.RunnerConfig{Beneficiary: keeperAddr}, nil)

	return &stack{
		t:          t,
		ctx:        ctx,
		clock:      clock,
		token:      token,
		price:      price,
		prices:     prices,
		fund:       fund,
		engine:     eng,
		bot:        bot,
		events:     events,
		markets:    markets,
		positions:  positions,
		trading:    NewTradingService(eng, bot, runner, prices, fund, nil),
		governance: NewGovernanceService(eng, fund, price, markets, nil),
	}
}

// withMarket создает ETH/USD через governance сервис
func (s *stack) withMarket() *stack {
	s.t.Helper()
	if _, err := s.governance.AddMarket(s.ctx, &AddMarketRequest{Symbol: ethUSD, MaxLeverage: 20}); err != nil {
		s.t.Fatalf("AddMarket: %v", err)
	}
	return s
}

func (s *stack) balance(addr common.Address) decimal.Decimal {
	s.t.Helper()
	b, err := s.token.BalanceOf(s.ctx, addr)
	if err != nil {
		s.t.Fatalf("BalanceOf: %v", err)
	}
	return b
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !dec(want).Equal(got) {
		t.Errorf("want %s, got %s", want, got)
	}
}
