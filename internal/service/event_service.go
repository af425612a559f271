package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpetual/internal/engine"
	"perpetual/internal/models"
	"perpetual/internal/repository"
	"perpetual/pkg/utils"
)

// DefaultEventBufferSize - ёмкость очереди событий по умолчанию
const DefaultEventBufferSize = 4096

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000

	// backlogFactor - ёмкость резервного списка в размерах очереди
	backlogFactor = 16
)

// EventService - журнал событий движка и страхового фонда.
//
// Publish вызывается под guard'ом движка и не блокирует: событие получает
// uuid и ставится в очередь. Воркер (Run) пишет событие в журнал,
// обновляет зеркало позиций и рынков по текущему состоянию движка и
// рассылает событие подписчикам WebSocket.
//
// Переполненная очередь не теряет события: они копятся в резервном
// списке (до backlogFactor размеров очереди) и обрабатываются в порядке
// публикации. Отбрасывается только то, что не помещается и в него,
// с учётом в EventsDropped.
type EventService struct {
	events    EventRepositoryInterface
	positions PositionRepositoryInterface
	markets   MarketRepositoryInterface
	state     StateReader
	hub       EventBroadcaster
	log       *utils.Logger

	queue  chan models.Event
	notify chan struct{}

	mu         sync.Mutex
	backlog    []models.Event
	maxBacklog int
	dropped    int64
}

// NewEventService создает EventService. positions, markets, state и hub могут быть nil.
func NewEventService(
	events EventRepositoryInterface,
	positions PositionRepositoryInterface,
	markets MarketRepositoryInterface,
	bufferSize int,
	log *utils.Logger,
) *EventService {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBufferSize
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &EventService{
		events:     events,
		positions:  positions,
		markets:    markets,
		queue:      make(chan models.Event, bufferSize),
		notify:     make(chan struct{}, 1),
		maxBacklog: bufferSize * backlogFactor,
		log:        log.WithComponent("events"),
	}
}

// SetStateReader задаёт источник состояния для зеркала (движок создаётся после сервиса)
func (s *EventService) SetStateReader(state StateReader) {
	s.state = state
}

// SetWebSocketHub устанавливает hub для рассылки событий
func (s *EventService) SetWebSocketHub(hub EventBroadcaster) {
	s.hub = hub
}

// Publish ставит событие в очередь (engine.EventSink, insurance.EventSink)
func (s *EventService) Publish(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// пока резерв не пуст, новые события встают за ним
	if len(s.backlog) == 0 {
		select {
		case s.queue <- e:
			EventsPublished.WithLabelValues(e.Type).Inc()
			return
		default:
		}
	}

	if len(s.backlog) >= s.maxBacklog {
		EventsDropped.Inc()
		s.dropped++
		s.log.Warn("event backlog full, event dropped",
			utils.String("type", e.Type),
			utils.PositionID(e.PositionID),
			utils.Int("backlog", len(s.backlog)),
		)
		return
	}
	if len(s.backlog) == 0 {
		s.log.Warn("event queue full, spilling to backlog", utils.Int("queue", cap(s.queue)))
	}
	s.backlog = append(s.backlog, e)
	EventsPublished.WithLabelValues(e.Type).Inc()
	EventBacklog.Set(float64(len(s.backlog)))
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Dropped возвращает число отброшенных событий
func (s *EventService) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Pending возвращает число необработанных событий
func (s *EventService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.backlog)
}

// Run обрабатывает очередь до отмены контекста, затем дописывает остаток
func (s *EventService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Drain()
			return
		case e := <-s.queue:
			s.handle(e)
		case <-s.notify:
			s.Drain()
		}
	}
}

// Drain синхронно обрабатывает очередь, затем резерв, пока оба не пусты
func (s *EventService) Drain() int {
	n := 0
	for {
		n += s.drainQueue()

		s.mu.Lock()
		// события очереди опубликованы раньше резерва
		if len(s.queue) > 0 {
			s.mu.Unlock()
			continue
		}
		spilled := s.backlog
		s.backlog = nil
		s.mu.Unlock()

		if len(spilled) == 0 {
			EventBacklog.Set(0)
			return n
		}
		for _, e := range spilled {
			s.handle(e)
		}
		n += len(spilled)
	}
}

func (s *EventService) drainQueue() int {
	n := 0
	for {
		select {
		case e := <-s.queue:
			s.handle(e)
			n++
		default:
			return n
		}
	}
}

func (s *EventService) handle(e models.Event) {
	if err := s.events.Create(&e); err != nil {
		EventsPersistFailures.WithLabelValues("journal").Inc()
		s.log.Error("failed to persist event",
			utils.String("event_id", e.ID),
			utils.String("type", e.Type),
			utils.Err(err),
		)
	}

	s.mirror(e)

	if s.hub != nil {
		s.hub.BroadcastEvent(e)
	}
}

// mirror приводит зеркало в БД к текущему состоянию движка
//
// Состояние читается из движка, а не из данных события: к моменту
// обработки позиция могла измениться ещё раз, зеркало всё равно сходится.
func (s *EventService) mirror(e models.Event) {
	if s.state == nil {
		return
	}

	switch e.Type {
	case models.EventPositionOpened, models.EventPositionClosed,
		models.EventCollateralAdded, models.EventCollateralRemoved,
		models.EventLiquidationTriggered, models.EventPartialLiquidation:
		if s.positions != nil {
			s.mirrorPosition(e)
		}

	case models.EventFundingRateUpdated, models.EventMarketUpdated:
		if s.markets != nil {
			s.mirrorMarket(e)
		}
	}
}

func (s *EventService) mirrorPosition(e models.Event) {
	id, err := utils.ParsePositionID(e.PositionID)
	if err != nil {
		s.log.Warn("event without valid position id", utils.String("type", e.Type))
		return
	}

	p, err := s.state.GetPosition(id)
	switch {
	case errors.Is(err, engine.ErrPositionNotFound):
		err = s.positions.Delete(id)
		if errors.Is(err, repository.ErrPositionNotFound) {
			err = nil
		}
	case err == nil:
		err = s.positions.Upsert(p)
	}
	if err != nil {
		EventsPersistFailures.WithLabelValues("positions").Inc()
		s.log.Error("failed to mirror position", utils.PositionID(e.PositionID), utils.Err(err))
	}
}

func (s *EventService) mirrorMarket(e models.Event) {
	m, err := s.state.Market(e.Symbol)
	if err == nil {
		err = s.markets.SaveMarket(m)
	}
	if err != nil {
		EventsPersistFailures.WithLabelValues("markets").Inc()
		s.log.Error("failed to mirror market", utils.Symbol(e.Symbol), utils.Err(err))
	}
}

// ============ Чтение журнала ============

// GetRecent возвращает последние события, опционально одного типа
func (s *EventService) GetRecent(eventType string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	if eventType != "" {
		return s.events.GetByType(eventType, limit)
	}
	return s.events.GetRecent(limit)
}

// GetPositionHistory возвращает события позиции в хронологическом порядке
func (s *EventService) GetPositionHistory(positionID string) ([]*models.Event, error) {
	id, err := utils.ParsePositionID(positionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return s.events.GetByPosition(id.Hex())
}

// Count возвращает число событий в журнале
func (s *EventService) Count() (int, error) {
	return s.events.Count()
}

// Prune удаляет из журнала события старше before
func (s *EventService) Prune(before time.Time) (int64, error) {
	n, err := s.events.DeleteOlderThan(before)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if n > 0 {
		s.log.Info("events pruned", utils.Int64("deleted", n), utils.Time("before", before))
	}
	return n, nil
}

// RunRetention раз в interval удаляет события старше retention, до отмены ctx
func (s *EventService) RunRetention(ctx context.Context, clock utils.Clock, retention, interval time.Duration) {
	clock = utils.ClockOrSystem(clock)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(clock.Now().Add(-retention)); err != nil {
				s.log.Warn("event retention failed", utils.Err(err))
			}
		}
	}
}

// Проверяем, что сервис подходит движку и фонду как получатель событий
var _ engine.EventSink = (*EventService)(nil)
