package service

import (
	"errors"
	"testing"
	"time"

	"perpetual/internal/engine"
	"perpetual/internal/keeper"
	"perpetual/internal/models"
)

func TestTradingService_OpenPositionValidation(t *testing.T) {
	s := newStack(t, nil).withMarket()

	tests := []struct {
		name    string
		req     OpenPositionRequest
		wantErr error
	}{
		{"bad size", OpenPositionRequest{Symbol: ethUSD, Size: "abc", Collateral: "100"}, engine.ErrValidation},
		{"negative collateral", OpenPositionRequest{Symbol: ethUSD, Size: "1000", Collateral: "-1"}, engine.ErrValidation},
		{"too many digits", OpenPositionRequest{Symbol: ethUSD, Size: "1.0000000000000000001", Collateral: "100"}, engine.ErrValidation},
		{"zero size", OpenPositionRequest{Symbol: ethUSD, Size: "0", Collateral: "100"}, engine.ErrValidation},
		{"unknown market", OpenPositionRequest{Symbol: "BTC/USD", Size: "1000", Collateral: "100"}, engine.ErrNotFound},
		{"leverage over limit", OpenPositionRequest{Symbol: ethUSD, Size: "1000", Collateral: "50"}, engine.ErrRiskRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := s.trading.OpenPosition(s.ctx, alice, &req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(s.trading.engine.Positions()) != 0 {
		t.Error("rejected requests must not open positions")
	}
}

func TestTradingService_PositionLifecycle(t *testing.T) {
	s := newStack(t, nil).withMarket()

	p, err := s.trading.OpenPosition(s.ctx, alice, &OpenPositionRequest{
		Symbol: "eth/usd", Size: "1000", Collateral: "100", IsLong: true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	assertDec(t, "9900", s.balance(alice))

	risk, err := s.trading.GetPosition(s.ctx, p.ID.Hex())
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !risk.Healthy || risk.Liquidatable {
		t.Errorf("fresh position must be healthy: %+v", risk)
	}
	if risk.Assessment.MarginRatio != 1000 {
		t.Errorf("expected margin ratio 1000, got %d", risk.Assessment.MarginRatio)
	}

	if _, err := s.trading.AddCollateral(s.ctx, alice, p.ID.Hex(), &AmountRequest{Amount: "50"}); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}
	if _, err := s.trading.AddCollateral(s.ctx, alice, p.ID.Hex(), nil); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("missing amount must be a validation error, got %v", err)
	}
	if _, err := s.trading.RemoveCollateral(s.ctx, bob, p.ID.Hex(), &AmountRequest{Amount: "10"}); !errors.Is(err, engine.ErrUnauthorized) {
		t.Errorf("expected unauthorized for non-owner, got %v", err)
	}
	updated, err := s.trading.RemoveCollateral(s.ctx, alice, p.ID.Hex(), &AmountRequest{Amount: "30"})
	if err != nil {
		t.Fatalf("RemoveCollateral: %v", err)
	}
	assertDec(t, "120", updated.Collateral)

	mine, err := s.trading.ListPositions(alice.Hex())
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListPositions(alice): %v, %d", err, len(mine))
	}
	if none, _ := s.trading.ListPositions(bob.Hex()); len(none) != 0 {
		t.Errorf("bob has no positions, got %d", len(none))
	}
	if _, err := s.trading.ListPositions("not-an-address"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	s.events.Drain()
	if mirrored, err := s.positions.GetByID(p.ID); err != nil || !mirrored.Collateral.Equal(dec("120")) {
		t.Errorf("mirror out of date: %v %+v", err, mirrored)
	}

	res, err := s.trading.ClosePosition(s.ctx, alice, p.ID.Hex(), nil)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	assertDec(t, "120", res.Payout)
	assertDec(t, "10000", s.balance(alice))

	if _, err := s.trading.GetPosition(s.ctx, p.ID.Hex()); !errors.Is(err, engine.ErrPositionNotFound) {
		t.Errorf("expected not found after close, got %v", err)
	}
	if _, err := s.trading.ClosePosition(s.ctx, alice, "0x12", nil); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error for bad id, got %v", err)
	}

	s.events.Drain()
	if _, err := s.positions.GetByID(p.ID); err == nil {
		t.Error("closed position must leave the mirror")
	}
}

func TestTradingService_Markets(t *testing.T) {
	s := newStack(t, nil).withMarket()

	markets := s.trading.Markets()
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	if markets[0].RiskParameters.MaintenanceMarginRatio != 500 {
		t.Errorf("expected default maintenance 500, got %d", markets[0].RiskParameters.MaintenanceMarginRatio)
	}

	if _, err := s.trading.Market("BTC/USD"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	s.clock.Advance(time.Hour)
	m, err := s.trading.UpdateFunding(s.ctx, ethUSD)
	if err != nil {
		t.Fatalf("UpdateFunding: %v", err)
	}
	if m.Symbol != ethUSD {
		t.Errorf("unexpected market %s", m.Symbol)
	}
}

func TestTradingService_KeeperFlow(t *testing.T) {
	s := newStack(t, nil).withMarket()
	for _, trader := range []struct {
		addr       string
		collateral string
	}{{alice.Hex(), "100"}, {bob.Hex(), "130"}} {
		addr, _ := parseAddress(trader.addr)
		if _, err := s.trading.OpenPosition(s.ctx, addr, &OpenPositionRequest{
			Symbol: ethUSD, Size: "1000", Collateral: trader.collateral, IsLong: true,
		}); err != nil {
			t.Fatalf("OpenPosition: %v", err)
		}
	}
	s.price.SetPrice(ethUSD, dec("1870"), 100)

	refresh, err := s.trading.RefreshKeeperTargets(s.ctx)
	if err != nil {
		t.Fatalf("RefreshKeeperTargets: %v", err)
	}
	if refresh.Discovered != 2 || refresh.Monitored != 2 {
		t.Errorf("unexpected refresh result %+v", refresh)
	}
	if _, err := s.trading.RefreshKeeperTargets(s.ctx); !errors.Is(err, keeper.ErrRefreshTooSoon) {
		t.Errorf("expected rate limit, got %v", err)
	}

	targets, err := s.trading.KeeperTargets(0)
	if err != nil || len(targets) != 2 {
		t.Fatalf("KeeperTargets: %v, %d", err, len(targets))
	}
	if !targets[0].Liquidatable || targets[1].Liquidatable {
		t.Errorf("expected only the top target liquidatable: %+v", targets)
	}

	if _, err := s.trading.ExecuteLiquidations(s.ctx, &ExecuteLiquidationsRequest{}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("empty batch must be rejected, got %v", err)
	}

	batch, err := s.trading.ExecuteLiquidations(s.ctx, &ExecuteLiquidationsRequest{
		PositionIDs: []string{targets[0].PositionID.Hex()},
		Keeper:      keeperAddr.Hex(),
	})
	if err != nil {
		t.Fatalf("ExecuteLiquidations: %v", err)
	}
	if batch.Liquidated != 1 || !batch.TotalReward.IsPositive() {
		t.Errorf("unexpected batch %+v", batch)
	}
	if !s.balance(keeperAddr).Equal(batch.TotalReward) {
		t.Errorf("keeper must receive %s, has %s", batch.TotalReward, s.balance(keeperAddr))
	}

	info, err := s.trading.Liquidator(botAddr.Hex())
	if err != nil || info.TotalLiquidations != 1 {
		t.Errorf("liquidator stats not updated: %v %+v", err, info)
	}

	// страховой фонд получил комиссию ликвидации
	status, err := s.trading.InsuranceStatus()
	if err != nil || !status.Balance.IsPositive() {
		t.Errorf("insurance fee not contributed: %v %+v", err, status)
	}

	if last, err := s.trading.LastKeeperBatch(); err != nil || last != nil {
		t.Errorf("runner has not run yet: %v %+v", err, last)
	}
}

func TestTradingService_DirectLiquidation(t *testing.T) {
	s := newStack(t, nil).withMarket()
	p, err := s.trading.OpenPosition(s.ctx, alice, &OpenPositionRequest{Symbol: ethUSD, Size: "1000", Collateral: "100", IsLong: true})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	if _, err := s.trading.Liquidate(s.ctx, keeperAddr, p.ID.Hex()); !errors.Is(err, engine.ErrUnauthorized) {
		t.Errorf("unregistered liquidator must be rejected, got %v", err)
	}
	if _, err := s.trading.RegisterLiquidator(s.ctx, keeperAddr); err != nil {
		t.Fatalf("RegisterLiquidator: %v", err)
	}
	if _, err := s.trading.Liquidate(s.ctx, keeperAddr, p.ID.Hex()); !errors.Is(err, engine.ErrConflict) {
		t.Errorf("healthy position must not be liquidatable, got %v", err)
	}

	s.price.SetPrice(ethUSD, dec("1850"), 100)
	est, err := s.trading.EstimateLiquidation(s.ctx, keeperAddr, p.ID.Hex())
	if err != nil {
		t.Fatalf("EstimateLiquidation: %v", err)
	}
	res, err := s.trading.Liquidate(s.ctx, keeperAddr, p.ID.Hex())
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if !res.Reward.Equal(est.Reward) {
		t.Errorf("estimate %s differs from result %s", est.Reward, res.Reward)
	}
	if len(s.trading.Liquidators()) != 2 {
		t.Errorf("expected bot and keeper registered, got %d", len(s.trading.Liquidators()))
	}
}

func TestTradingService_Prices(t *testing.T) {
	s := newStack(t, nil)

	p, err := s.trading.Price(s.ctx, "eth/usd")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	assertDec(t, "2000", p.Price)

	s.clock.Advance(time.Minute)
	s.price.SetPrice(ethUSD, dec("2100"), 100)
	if _, err := s.trading.Price(s.ctx, ethUSD); err != nil {
		t.Fatalf("Price: %v", err)
	}
	s.clock.Advance(time.Minute)

	twap, err := s.trading.TWAP(s.ctx, ethUSD, 2*time.Minute)
	if err != nil {
		t.Fatalf("TWAP: %v", err)
	}
	assertDec(t, "2050", twap)

	for _, period := range []time.Duration{0, -time.Second, 25 * time.Hour} {
		if _, err := s.trading.TWAP(s.ctx, ethUSD, period); !errors.Is(err, engine.ErrValidation) {
			t.Errorf("period %s: expected validation error, got %v", period, err)
		}
	}
	if _, err := s.trading.Price(s.ctx, "bad symbol"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTradingService_Insurance(t *testing.T) {
	s := newStack(t, nil)

	status, err := s.trading.Contribute(s.ctx, alice, &AmountRequest{Amount: "100"})
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	assertDec(t, "100", status.Balance)
	assertDec(t, "9900", s.balance(alice))

	if _, err := s.trading.Contribute(s.ctx, alice, &AmountRequest{Amount: "x"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	claims, err := s.trading.Claims("")
	if err != nil || len(claims) != 0 {
		t.Errorf("expected no claims: %v %d", err, len(claims))
	}
	if _, err := s.trading.Claims("LOST"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := s.trading.Claims(string(models.ClaimPending)); err != nil {
		t.Errorf("Claims(PENDING): %v", err)
	}
}

func TestTradingService_DisabledComponents(t *testing.T) {
	s := newStack(t, nil)
	svc := NewTradingService(s.engine, nil, nil, s.prices, nil, nil)

	if _, err := svc.KeeperTargets(10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected unavailable keeper, got %v", err)
	}
	if _, err := svc.LastKeeperBatch(); !errors.Is(err, ErrKeeperDisabled) {
		t.Errorf("expected disabled keeper, got %v", err)
	}
	if _, err := svc.InsuranceStatus(); !errors.Is(err, ErrInsuranceDisabled) {
		t.Errorf("expected disabled fund, got %v", err)
	}
	if err := svc.CheckSolvency(s.ctx); err != nil {
		t.Errorf("empty vault must be solvent: %v", err)
	}
}
