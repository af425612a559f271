package repository

import (
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpetual/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEventIDRequired - событие без ID не сохраняется
var ErrEventIDRequired = errors.New("event id is required")

// EventRepository - журнал событий (таблица events)
//
// Журнал только дописывается: события не изменяются и не удаляются,
// кроме очистки по возрасту.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create записывает событие
func (r *EventRepository) Create(e *models.Event) error {
	if e.ID == "" {
		return ErrEventIDRequired
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, timestamp, type, symbol, position_id, trader, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(query, e.ID, e.Timestamp, e.Type, e.Symbol, e.PositionID, e.Trader, data)
	return err
}

// GetRecent возвращает последние N событий
func (r *EventRepository) GetRecent(limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, symbol, position_id, trader, data
		FROM events
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByPosition возвращает историю позиции в хронологическом порядке
func (r *EventRepository) GetByPosition(positionID string) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, symbol, position_id, trader, data
		FROM events
		WHERE position_id = $1
		ORDER BY timestamp ASC`

	rows, err := r.db.Query(query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByType возвращает последние N событий указанного типа
func (r *EventRepository) GetByType(eventType string, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, symbol, position_id, trader, data
		FROM events
		WHERE type = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.Query(query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count возвращает общее количество событий
func (r *EventRepository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan удаляет события старше указанной даты
func (r *EventRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM events WHERE timestamp < $1`, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	events := make([]*models.Event, 0)
	for rows.Next() {
		e := &models.Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Symbol, &e.PositionID, &e.Trader, &data); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
