package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"perpetual/internal/models"
)

// ============================================================
// MarketRepository Tests
// ============================================================

func TestMarketRepositorySaveMarket(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &models.Market{
		Symbol:                 "ETH/USD",
		MaxLeverage:            20,
		FundingRate:            -33,
		LastFundingTime:        now,
		OpenInterestLong:       decimal.NewFromInt(1000),
		OpenInterestShort:      decimal.NewFromInt(2000),
		CumulativeFundingIndex: decimal.RequireFromString("-1.5"),
		IsActive:               true,
		CreatedAt:              now,
	}
	mock.ExpectExec(`INSERT INTO markets .+ ON CONFLICT \(symbol\) DO UPDATE`).
		WithArgs("ETH/USD", int64(20), int64(-33), now, m.OpenInterestLong, m.OpenInterestShort,
			m.CumulativeFundingIndex, true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewMarketRepository(db).SaveMarket(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarketRepositorySaveRiskParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	p := models.DefaultRiskParameters()
	mock.ExpectExec(`INSERT INTO risk_parameters .+ ON CONFLICT \(symbol\) DO UPDATE`).
		WithArgs("ETH/USD", p.InitialMarginRatio, p.MaintenanceMarginRatio, p.LiquidationFeeRatio,
			p.InsuranceFeeRatio, p.MaxLeverage, p.MaxPositionSize, p.LiquidationThreshold, p.MaxLiquidationRatio).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewMarketRepository(db).SaveRiskParameters("ETH/USD", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarketRepositorySetActive(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		expectError error
	}{
		{"success", 1, nil},
		{"not found", 0, ErrMarketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`UPDATE markets SET is_active = \$1 WHERE symbol = \$2`).
				WithArgs(false, "ETH/USD").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = NewMarketRepository(db).SetActive("ETH/USD", false)
			if !errors.Is(err, tt.expectError) {
				t.Errorf("expected %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestMarketRepositoryGetAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"symbol", "max_leverage", "funding_rate", "last_funding_time",
		"open_interest_long", "open_interest_short", "cumulative_funding_index", "is_active", "created_at"}).
		AddRow("BTC/USD", 10, 0, now, "0", "0", "0", true, now).
		AddRow("ETH/USD", 20, 100, now, "1500", "500", "37.5", false, now)
	mock.ExpectQuery(`SELECT .+ FROM markets ORDER BY symbol`).WillReturnRows(rows)

	markets, err := NewMarketRepository(db).GetAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	eth := markets[1]
	if eth.FundingRate != 100 || eth.IsActive || !eth.CumulativeFundingIndex.Equal(decimal.RequireFromString("37.5")) {
		t.Errorf("unexpected market: %+v", eth)
	}
}

func TestMarketRepositoryGetRiskParameters(t *testing.T) {
	cols := []string{"initial_margin_ratio", "maintenance_margin_ratio", "liquidation_fee_ratio",
		"insurance_fee_ratio", "max_leverage", "max_position_size", "liquidation_threshold", "max_liquidation_ratio"}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM risk_parameters WHERE symbol = \$1`).
					WithArgs("ETH/USD").
					WillReturnRows(sqlmock.NewRows(cols).AddRow(1000, 500, 100, 50, 10, "1000000", 300, 5000))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM risk_parameters`).
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrRiskParametersNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			p, err := NewMarketRepository(db).GetRiskParameters("ETH/USD")
			if !errors.Is(err, tt.expectError) {
				t.Fatalf("expected %v, got %v", tt.expectError, err)
			}
			if tt.expectError == nil {
				if err := p.Validate(); err != nil {
					t.Errorf("loaded parameters should be valid: %v", err)
				}
			}
		})
	}
}
