package repository

import (
	"database/sql"
	"errors"

	"perpetual/internal/models"
)

// Ошибки репозитория рынков
var (
	ErrMarketNotFound         = errors.New("market not found")
	ErrRiskParametersNotFound = errors.New("risk parameters not found")
)

// MarketRepository - рынки и их параметры риска (таблицы markets, risk_parameters)
type MarketRepository struct {
	db *sql.DB
}

// NewMarketRepository создает новый экземпляр репозитория
func NewMarketRepository(db *sql.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// SaveMarket сохраняет рынок (вставка или обновление состояния)
func (r *MarketRepository) SaveMarket(m *models.Market) error {
	query := `
		INSERT INTO markets (symbol, max_leverage, funding_rate, last_funding_time, open_interest_long,
			open_interest_short, cumulative_funding_index, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			max_leverage = EXCLUDED.max_leverage,
			funding_rate = EXCLUDED.funding_rate,
			last_funding_time = EXCLUDED.last_funding_time,
			open_interest_long = EXCLUDED.open_interest_long,
			open_interest_short = EXCLUDED.open_interest_short,
			cumulative_funding_index = EXCLUDED.cumulative_funding_index,
			is_active = EXCLUDED.is_active`

	_, err := r.db.Exec(
		query,
		m.Symbol,
		m.MaxLeverage,
		m.FundingRate,
		m.LastFundingTime,
		m.OpenInterestLong,
		m.OpenInterestShort,
		m.CumulativeFundingIndex,
		m.IsActive,
		m.CreatedAt,
	)
	return err
}

// SaveRiskParameters сохраняет параметры риска рынка
func (r *MarketRepository) SaveRiskParameters(symbol string, p models.RiskParameters) error {
	query := `
		INSERT INTO risk_parameters (symbol, initial_margin_ratio, maintenance_margin_ratio, liquidation_fee_ratio,
			insurance_fee_ratio, max_leverage, max_position_size, liquidation_threshold, max_liquidation_ratio, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			initial_margin_ratio = EXCLUDED.initial_margin_ratio,
			maintenance_margin_ratio = EXCLUDED.maintenance_margin_ratio,
			liquidation_fee_ratio = EXCLUDED.liquidation_fee_ratio,
			insurance_fee_ratio = EXCLUDED.insurance_fee_ratio,
			max_leverage = EXCLUDED.max_leverage,
			max_position_size = EXCLUDED.max_position_size,
			liquidation_threshold = EXCLUDED.liquidation_threshold,
			max_liquidation_ratio = EXCLUDED.max_liquidation_ratio,
			updated_at = NOW()`

	_, err := r.db.Exec(
		query,
		symbol,
		p.InitialMarginRatio,
		p.MaintenanceMarginRatio,
		p.LiquidationFeeRatio,
		p.InsuranceFeeRatio,
		p.MaxLeverage,
		p.MaxPositionSize,
		p.LiquidationThreshold,
		p.MaxLiquidationRatio,
	)
	return err
}

// SetActive включает или выключает рынок
func (r *MarketRepository) SetActive(symbol string, active bool) error {
	result, err := r.db.Exec(`UPDATE markets SET is_active = $1 WHERE symbol = $2`, active, symbol)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrMarketNotFound
	}

	return nil
}

// GetAll возвращает все рынки
func (r *MarketRepository) GetAll() ([]*models.Market, error) {
	query := `
		SELECT symbol, max_leverage, funding_rate, last_funding_time, open_interest_long,
			open_interest_short, cumulative_funding_index, is_active, created_at
		FROM markets
		ORDER BY symbol`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]*models.Market, 0)
	for rows.Next() {
		m := &models.Market{}
		err := rows.Scan(
			&m.Symbol,
			&m.MaxLeverage,
			&m.FundingRate,
			&m.LastFundingTime,
			&m.OpenInterestLong,
			&m.OpenInterestShort,
			&m.CumulativeFundingIndex,
			&m.IsActive,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return markets, nil
}

const riskParameterColumns = `initial_margin_ratio, maintenance_margin_ratio, liquidation_fee_ratio,
	insurance_fee_ratio, max_leverage, max_position_size, liquidation_threshold, max_liquidation_ratio`

// GetRiskParameters возвращает параметры риска рынка
func (r *MarketRepository) GetRiskParameters(symbol string) (models.RiskParameters, error) {
	query := `SELECT ` + riskParameterColumns + ` FROM risk_parameters WHERE symbol = $1`

	var p models.RiskParameters
	err := r.db.QueryRow(query, symbol).Scan(
		&p.InitialMarginRatio,
		&p.MaintenanceMarginRatio,
		&p.LiquidationFeeRatio,
		&p.InsuranceFeeRatio,
		&p.MaxLeverage,
		&p.MaxPositionSize,
		&p.LiquidationThreshold,
		&p.MaxLiquidationRatio,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RiskParameters{}, ErrRiskParametersNotFound
		}
		return models.RiskParameters{}, err
	}
	return p, nil
}
