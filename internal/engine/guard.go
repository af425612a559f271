package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// Guard - non-reentrant блокировка всех изменяющих операций движка
//
// Одна операция изменяет состояние в каждый момент времени. Вызов внутри
// операции (callback токена при переводе) распознаётся по кадру вызова в
// context.Context: вложенный вызов сразу получает ErrReentrancyDetected,
// а внешний вызов, обнаружив попытку, откатывает свои переводы и тоже
// завершается ErrReentrancyDetected.
//
// Callback без кадра (новый context.Background()) ловится иначе: пока
// операция находится во внешнем вызове, ожидающий Enter ждёт конца этого
// вызова не дольше reentryWait. Тот же внешний вызов по истечении срока
// означает, что ожидающий исполняется внутри него.
type Guard struct {
	mu     sync.Mutex
	active *Call

	reentryWait time.Duration
	sink        EventSink
	log         *utils.Logger
}

type frameKey struct{}

// Call - кадр текущей изменяющей операции
type Call struct {
	guard     *Guard
	op        string
	reentered atomic.Bool
	rollbacks []rollbackStep
	events    []models.Event

	done     chan struct{}
	external atomic.Int32  // открытые внешние вызовы
	windows  atomic.Uint64 // номер последнего внешнего вызова
}

type rollbackStep struct {
	name string
	fn   func(ctx context.Context) error
}

// NewGuard создаёт guard. События операций публикуются в sink при успехе.
func NewGuard(sink EventSink, log *utils.Logger) *Guard {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Guard{sink: sink, log: log, reentryWait: DefaultReentryWait}
}

// SetReentryWait задаёт срок ожидания внешнего вызова чужой операции
func (g *Guard) SetReentryWait(d time.Duration) {
	if d > 0 {
		g.reentryWait = d
	}
}

// Enter начинает операцию op. Возвращённый ctx нужно передавать во все
// внешние вызовы, Finish вызывать через defer.
func (g *Guard) Enter(ctx context.Context, op string) (context.Context, *Call, error) {
	if outer, ok := ctx.Value(frameKey{}).(*Call); ok && outer != nil {
		return ctx, nil, g.reject(outer, op)
	}

	call := &Call{guard: g, op: op, done: make(chan struct{})}
	for {
		g.mu.Lock()
		active := g.active
		if active == nil {
			g.active = call
			g.mu.Unlock()
			return context.WithValue(ctx, frameKey{}, call), call, nil
		}
		g.mu.Unlock()

		if err := g.wait(ctx, active, op); err != nil {
			return ctx, nil, err
		}
	}
}

// wait ждёт завершения активной операции. Повторный вход из её внешнего
// вызова возможен только пока этот вызов открыт.
func (g *Guard) wait(ctx context.Context, active *Call, op string) error {
	if active.external.Load() == 0 {
		select {
		case <-active.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	window := active.windows.Load()
	timer := time.NewTimer(g.reentryWait)
	defer timer.Stop()
	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if active.external.Load() > 0 && active.windows.Load() == window {
		return g.reject(active, op)
	}
	return nil
}

// reject помечает внешнюю операцию и отказывает вложенной
func (g *Guard) reject(outer *Call, op string) error {
	outer.reentered.Store(true)
	RecordReentrancyBlocked(op)
	g.log.Warn("reentrant call blocked",
		utils.String("op", op),
		utils.String("outer_op", outer.op),
	)
	return fmt.Errorf("%w: %s inside %s", ErrReentrancyDetected, op, outer.op)
}

// External выполняет fn как внешний вызов операции из ctx
// (перевод токена, обращение к страховому фонду)
func External(ctx context.Context, fn func() error) error {
	c, ok := ctx.Value(frameKey{}).(*Call)
	if !ok || c == nil {
		return fn()
	}
	c.windows.Add(1)
	c.external.Add(1)
	defer c.external.Add(-1)
	return fn()
}

// InCall сообщает, выполняется ли ctx внутри операции
func InCall(ctx context.Context) bool {
	c, ok := ctx.Value(frameKey{}).(*Call)
	return ok && c != nil
}

// OnRollback регистрирует шаг отката. Шаги выполняются в обратном порядке.
func (c *Call) OnRollback(name string, fn func(ctx context.Context) error) {
	c.rollbacks = append(c.rollbacks, rollbackStep{name: name, fn: fn})
}

// Emit откладывает событие до успешного завершения операции
func (c *Call) Emit(e models.Event) {
	c.events = append(c.events, e)
}

// Check возвращает ErrReentrancyDetected если во время операции была
// попытка повторного входа
func (c *Call) Check() error {
	if c.reentered.Load() {
		return fmt.Errorf("%w: during %s", ErrReentrancyDetected, c.op)
	}
	return nil
}

// Finish завершает операцию: при ошибке откатывает внешние переводы,
// при успехе публикует события. Снимает блокировку.
//
// Откат останавливается на первом неудачном шаге, чтобы состояние
// осталось согласованным с фактически выполненными переводами.
func (c *Call) Finish(ctx context.Context, errp *error) {
	defer c.release()

	if *errp == nil {
		*errp = c.Check()
	}

	if *errp == nil {
		for _, e := range c.events {
			c.guard.sink.Publish(e)
		}
		return
	}

	for i := len(c.rollbacks) - 1; i >= 0; i-- {
		step := c.rollbacks[i]
		if err := step.fn(ctx); err != nil {
			c.guard.log.Error("rollback step failed",
				utils.String("op", c.op),
				utils.String("step", step.name),
				utils.Err(err),
			)
			*errp = errors.Join(*errp, fmt.Errorf("%w: rollback %s: %v", ErrExecutionFailed, step.name, err))
			return
		}
	}
}

func (c *Call) release() {
	c.guard.mu.Lock()
	if c.guard.active == c {
		c.guard.active = nil
	}
	c.guard.mu.Unlock()
	close(c.done)
}
