package repository

import (
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - зеркало открытых позиций для индексации (таблица positions)
//
// Источник истины - движок в памяти. Таблица обновляется из журнала
// событий и не читается движком.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Upsert вставляет позицию или перезаписывает существующую
func (r *PositionRepository) Upsert(p *models.Position) error {
	query := `
		INSERT INTO positions (id, trader, symbol, size, collateral, entry_price, entry_time, is_long, funding_index_at_entry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			size = EXCLUDED.size,
			collateral = EXCLUDED.collateral,
			updated_at = NOW()`

	_, err := r.db.Exec(
		query,
		p.ID.Hex(),
		p.Trader.Hex(),
		p.Symbol,
		p.Size,
		p.Collateral,
		p.EntryPrice,
		p.EntryTime,
		p.IsLong,
		p.FundingIndexAtEntry,
	)
	return err
}

// UpdateCollateral обновляет залог позиции
func (r *PositionRepository) UpdateCollateral(id common.Hash, collateral decimal.Decimal) error {
	query := `UPDATE positions SET collateral = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(query, collateral, id.Hex())
}

// UpdateSize обновляет размер и залог после частичной ликвидации
func (r *PositionRepository) UpdateSize(id common.Hash, size, collateral decimal.Decimal) error {
	query := `UPDATE positions SET size = $1, collateral = $2, updated_at = NOW() WHERE id = $3`
	return r.execOne(query, size, collateral, id.Hex())
}

// Delete удаляет закрытую позицию
func (r *PositionRepository) Delete(id common.Hash) error {
	return r.execOne(`DELETE FROM positions WHERE id = $1`, id.Hex())
}

func (r *PositionRepository) execOne(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

const positionColumns = `id, trader, symbol, size, collateral, entry_price, entry_time, is_long, funding_index_at_entry`

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(id common.Hash) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(r.db.QueryRow(query, id.Hex()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByTrader возвращает позиции трейдера
func (r *PositionRepository) GetByTrader(trader common.Address) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE trader = $1 ORDER BY entry_time ASC`

	rows, err := r.db.Query(query, trader.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetAll возвращает все позиции
func (r *PositionRepository) GetAll() ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions ORDER BY entry_time ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var id, trader string
	err := row.Scan(
		&id,
		&trader,
		&p.Symbol,
		&p.Size,
		&p.Collateral,
		&p.EntryPrice,
		&p.EntryTime,
		&p.IsLong,
		&p.FundingIndexAtEntry,
	)
	if err != nil {
		return nil, err
	}
	p.ID = common.HexToHash(id)
	p.Trader = common.HexToAddress(trader)
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	positions := make([]*models.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}
