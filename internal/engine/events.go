package engine

import (
	"sync"

	"perpetual/internal/models"
)

// EventSink - получатель событий движка (журнал, WebSocket).
// Publish не должен блокировать: вызывается под guard'ом движка.
type EventSink interface {
	Publish(event models.Event)
}

// NopSink отбрасывает события
type NopSink struct{}

// Publish ничего не делает
func (NopSink) Publish(models.Event) {}

// RecordingSink собирает события в память (симуляция, тесты)
type RecordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

// Publish сохраняет событие
func (s *RecordingSink) Publish(e models.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events возвращает копию всех событий
func (s *RecordingSink) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType возвращает события указанного типа
func (s *RecordingSink) OfType(t string) []models.Event {
	var out []models.Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
