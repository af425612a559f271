package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/models"
)

func newTestEventService(buffer int) (*EventService, *MockEventRepository, *MockPositionRepository, *MockMarketRepository, *MockStateReader, *MockBroadcaster) {
	events := NewMockEventRepository()
	positions := NewMockPositionRepository()
	markets := NewMockMarketRepository()
	state := NewMockStateReader()
	hub := &MockBroadcaster{}

	svc := NewEventService(events, positions, markets, buffer, nil)
	svc.SetStateReader(state)
	svc.SetWebSocketHub(hub)
	return svc, events, positions, markets, state, hub
}

func testPosition(n byte) *models.Position {
	return &models.Position{
		ID:         common.BytesToHash([]byte{n}),
		Trader:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Symbol:     "ETH/USD",
		Size:       decimal.NewFromInt(1000),
		Collateral: decimal.NewFromInt(100),
		EntryPrice: decimal.NewFromInt(2000),
		IsLong:     true,
	}
}

func TestEventService_PublishAndDrain(t *testing.T) {
	svc, events, _, _, _, hub := newTestEventService(8)

	svc.Publish(models.Event{Type: models.EventMarketUpdated, Symbol: "ETH/USD"})
	svc.Publish(models.Event{ID: "fixed", Type: models.EventFundingRateUpdated, Symbol: "ETH/USD"})

	if svc.Pending() != 2 {
		t.Fatalf("expected 2 pending events, got %d", svc.Pending())
	}
	if n := svc.Drain(); n != 2 {
		t.Fatalf("expected 2 drained events, got %d", n)
	}

	recent, err := svc.GetRecent("", 0)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[1].ID == "" {
		t.Error("event without id must get a generated uuid")
	}
	if recent[0].ID != "fixed" {
		t.Errorf("explicit id must be kept, got %q", recent[0].ID)
	}
	if hub.Count() != 2 {
		t.Errorf("expected 2 broadcasts, got %d", hub.Count())
	}
	if count, _ := events.Count(); count != 2 {
		t.Errorf("expected 2 persisted events, got %d", count)
	}
}

func TestEventService_QueueOverflowSpillsInOrder(t *testing.T) {
	svc, _, _, _, _, hub := newTestEventService(2)

	for i := 0; i < 5; i++ {
		svc.Publish(models.Event{ID: fmt.Sprintf("e%d", i), Type: models.EventLiquidationTriggered})
	}

	if svc.Dropped() != 0 {
		t.Errorf("expected no dropped events, got %d", svc.Dropped())
	}
	if svc.Pending() != 5 {
		t.Errorf("expected 5 pending events, got %d", svc.Pending())
	}

	// очередь снова свободна, но новое событие встаёт за резервом
	if n := svc.Drain(); n != 5 {
		t.Fatalf("expected 5 drained events, got %d", n)
	}
	svc.Publish(models.Event{ID: "e5", Type: models.EventLiquidationTriggered})
	svc.Drain()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.events) != 6 {
		t.Fatalf("expected 6 broadcasts, got %d", len(hub.events))
	}
	for i, e := range hub.events {
		if want := fmt.Sprintf("e%d", i); e.ID != want {
			t.Errorf("event %d: expected %s, got %s", i, want, e.ID)
		}
	}
}

func TestEventService_BacklogLimit(t *testing.T) {
	svc, _, _, _, _, _ := newTestEventService(1)

	// 1 в очереди + 16 в резерве
	for i := 0; i < 20; i++ {
		svc.Publish(models.Event{Type: models.EventMarketUpdated})
	}

	if svc.Dropped() != 3 {
		t.Errorf("expected 3 dropped events, got %d", svc.Dropped())
	}
	if svc.Pending() != 17 {
		t.Errorf("expected 17 pending events, got %d", svc.Pending())
	}
}

func TestEventService_RunFlushesBacklog(t *testing.T) {
	svc, events, _, _, _, _ := newTestEventService(1)
	for i := 0; i < 4; i++ {
		svc.Publish(models.Event{Type: models.EventMarketUpdated})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if count, _ := events.Count(); count != 4 {
		t.Errorf("expected 4 persisted events, got %d", count)
	}
}

func TestEventService_MirrorsPositions(t *testing.T) {
	svc, _, positions, _, state, _ := newTestEventService(8)
	p := testPosition(1)
	state.positions[p.ID] = p

	svc.Publish(models.NewPositionOpenedEvent(p))
	svc.Drain()

	got, err := positions.GetByID(p.ID)
	if err != nil {
		t.Fatalf("position not mirrored: %v", err)
	}
	if !got.Collateral.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected collateral %s", got.Collateral)
	}

	// зеркало берёт текущее состояние движка, а не данные события
	updated := *p
	updated.Collateral = decimal.NewFromInt(150)
	state.positions[p.ID] = &updated
	svc.Publish(models.NewCollateralEvent(models.EventCollateralAdded, p, p.Collateral, time.Now()))
	svc.Drain()

	got, _ = positions.GetByID(p.ID)
	if !got.Collateral.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected collateral 150, got %s", got.Collateral)
	}

	// позиция закрыта: зеркало удаляет её, повторное событие не ошибка
	delete(state.positions, p.ID)
	closed := models.NewPositionClosedEvent(p, decimal.NewFromInt(2000), decimal.Zero, decimal.Zero, p.Collateral, time.Now())
	svc.Publish(closed)
	svc.Publish(closed)
	svc.Drain()

	if _, err := positions.GetByID(p.ID); err == nil {
		t.Error("closed position must be removed from the mirror")
	}
}

func TestEventService_MirrorsMarkets(t *testing.T) {
	svc, _, _, markets, state, _ := newTestEventService(8)
	state.markets["ETH/USD"] = &models.Market{
		Symbol:                 "ETH/USD",
		MaxLeverage:            20,
		FundingRate:            12,
		CumulativeFundingIndex: decimal.NewFromInt(12),
		IsActive:               true,
	}

	svc.Publish(models.NewFundingRateEvent(state.markets["ETH/USD"]))
	svc.Drain()

	m, ok := markets.Market("ETH/USD")
	if !ok {
		t.Fatal("market not mirrored")
	}
	if m.FundingRate != 12 {
		t.Errorf("expected funding rate 12, got %d", m.FundingRate)
	}
}

func TestEventService_PersistFailureStillBroadcasts(t *testing.T) {
	svc, events, positions, _, state, hub := newTestEventService(8)
	events.createErr = errDatabase
	p := testPosition(2)
	state.positions[p.ID] = p

	svc.Publish(models.NewPositionOpenedEvent(p))
	svc.Drain()

	if hub.Count() != 1 {
		t.Errorf("expected broadcast despite journal failure, got %d", hub.Count())
	}
	if _, err := positions.GetByID(p.ID); err != nil {
		t.Errorf("mirror must not depend on journal write: %v", err)
	}
}

func TestEventService_RunDrainsOnCancel(t *testing.T) {
	svc, events, _, _, _, _ := newTestEventService(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		svc.Publish(models.Event{Type: models.EventMarketUpdated})
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if count, _ := events.Count(); count != 10 {
		t.Errorf("expected 10 persisted events, got %d", count)
	}
}

func TestEventService_Reads(t *testing.T) {
	svc, _, _, _, _, _ := newTestEventService(8)
	p := testPosition(3)

	svc.Publish(models.NewPositionOpenedEvent(p))
	svc.Publish(models.Event{Type: models.EventMarketUpdated})
	svc.Drain()

	byType, err := svc.GetRecent(models.EventPositionOpened, 5000)
	if err != nil || len(byType) != 1 {
		t.Fatalf("GetRecent by type: %v, %d events", err, len(byType))
	}

	history, err := svc.GetPositionHistory(p.ID.Hex())
	if err != nil || len(history) != 1 {
		t.Fatalf("GetPositionHistory: %v, %d events", err, len(history))
	}

	if _, err := svc.GetPositionHistory("0x1234"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEventService_Prune(t *testing.T) {
	svc, events, _, _, _, _ := newTestEventService(8)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		e := models.Event{ID: string(rune('a' + i)), Type: models.EventMarketUpdated, Timestamp: now.Add(-age)}
		if err := events.Create(&e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := svc.Prune(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
	if count, _ := svc.Count(); count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}
