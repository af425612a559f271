package utils

import (
	"sync"
	"time"
)

// time.go - источник времени
//
// Все временные правила движка (MAX_PRICE_AGE, интервал фандинга, годовой
// цикл наград страхового фонда, окна лимитера ликвидаций) считаются от Clock,
// а не от time.Now напрямую. В production это SystemClock, в тестах и
// симуляции - ManualClock ("время блока").

// Clock - источник текущего времени
type Clock interface {
	Now() time.Time
}

// SystemClock - настенные часы в UTC
type SystemClock struct{}

// Now возвращает текущее время в UTC
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock - управляемые часы для тестов и симуляции
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock создает часы, остановленные на start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now возвращает текущее время часов
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set переставляет часы
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance сдвигает часы вперед на d
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// ClockOrSystem возвращает c, либо SystemClock если c == nil
func ClockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

// UnixMillis возвращает время в миллисекундах Unix
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
