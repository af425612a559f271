package ratelimit

import (
	"context"
	"sync"
	"time"

	"perpetual/pkg/utils"
)

// RateLimiter - Token Bucket rate limiter
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst
// - Каждый запрос потребляет 1 токен
//
// Используется для ограничения попыток аутентификации governance API.
//
//	limiter := NewRateLimiter(1, 5, nil) // 1 req/sec, burst 5
//	if limiter.Allow() { ... }
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	clock      utils.Clock
	mu         sync.Mutex
}

// NewRateLimiter создаёт token bucket. clock == nil означает системные часы.
func NewRateLimiter(rate, burst float64, clock utils.Clock) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	clock = utils.ClockOrSystem(clock)
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.clock.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Allow забирает токен без блокировки
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN забирает n токенов без блокировки (всё или ничего)
func (rl *RateLimiter) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	return false
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tokens возвращает текущее количество доступных токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// ============================================================
// KeyedLimiter - token bucket на каждый ключ (IP, адрес)
// ============================================================

// KeyedLimiter лениво создаёт RateLimiter для каждого ключа
type KeyedLimiter struct {
	rate, burst float64
	clock       utils.Clock
	limiters    map[string]*RateLimiter
	mu          sync.Mutex
}

// NewKeyedLimiter создаёт лимитер с одинаковыми параметрами для всех ключей
func NewKeyedLimiter(rate, burst float64, clock utils.Clock) *KeyedLimiter {
	return &KeyedLimiter{
		rate:     rate,
		burst:    burst,
		clock:    clock,
		limiters: make(map[string]*RateLimiter),
	}
}

// Allow проверяет токен для ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	l, ok := kl.limiters[key]
	if !ok {
		l = NewRateLimiter(kl.rate, kl.burst, kl.clock)
		kl.limiters[key] = l
	}
	kl.mu.Unlock()
	return l.Allow()
}

// ============================================================
// WindowLimiter - не более N событий на ключ в скользящем окне
// ============================================================

// WindowLimiter ограничивает число событий на ключ в скользящем окне времени.
//
// Используется как circuit breaker каскадных ликвидаций: не более
// limit ликвидаций на рынок за window. Время берётся из Clock, поэтому
// окно совпадает со временем блока в симуляции.
type WindowLimiter struct {
	limit  int
	window time.Duration
	clock  utils.Clock
	events map[string][]time.Time
	mu     sync.Mutex
}

// NewWindowLimiter создаёт лимитер. limit <= 0 отключает ограничение.
func NewWindowLimiter(limit int, window time.Duration, clock utils.Clock) *WindowLimiter {
	return &WindowLimiter{
		limit:  limit,
		window: window,
		clock:  utils.ClockOrSystem(clock),
		events: make(map[string][]time.Time),
	}
}

// prune удаляет события старше окна
// ВАЖНО: вызывается под lock'ом
func (wl *WindowLimiter) prune(key string, now time.Time) []time.Time {
	events := wl.events[key]
	cutoff := now.Add(-wl.window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	events = events[i:]
	if len(events) == 0 {
		delete(wl.events, key)
		return nil
	}
	wl.events[key] = events
	return events
}

// Allow регистрирует событие, если лимит окна не исчерпан
func (wl *WindowLimiter) Allow(key string) bool {
	if wl.limit <= 0 {
		return true
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()

	now := wl.clock.Now()
	events := wl.prune(key, now)
	if len(events) >= wl.limit {
		return false
	}
	wl.events[key] = append(events, now)
	return true
}

// Release отменяет последнее зарегистрированное событие ключа
// (операция, под которую взят слот, не состоялась)
func (wl *WindowLimiter) Release(key string) {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	events := wl.events[key]
	if len(events) == 0 {
		return
	}
	events = events[:len(events)-1]
	if len(events) == 0 {
		delete(wl.events, key)
		return
	}
	wl.events[key] = events
}

// Remaining возвращает сколько событий ещё доступно ключу в текущем окне
func (wl *WindowLimiter) Remaining(key string) int {
	if wl.limit <= 0 {
		return -1
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()
	return wl.limit - len(wl.prune(key, wl.clock.Now()))
}
