package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на базе zap
//
// Формат: json (production) или text (console, для разработки).
// Output: путь к файлу; пустое значение = stderr. Если файл открыть нельзя,
// логгер откатывается на stderr и не паникует.

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу или "" для stderr
	Development bool
}

// Logger - обертка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создает логгер по конфигурации
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: cannot open %s, falling back to stderr: %v\n", cfg.Output, err)
		} else {
			sink = zapcore.AddSync(f)
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(zapcore.NewCore(encoder, sink, level), opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// parseLevel переводит строку в уровень zap (по умолчанию info)
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewNopLogger возвращает логгер, который ничего не пишет (для тестов)
func NewNopLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// ============ Глобальный логгер ============

// InitGlobalLogger создает логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая его по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============ Методы Logger ============

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent добавляет имя компонента (engine, keeper, oracle...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithSymbol добавляет символ рынка
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithPositionID добавляет ID позиции
func (l *Logger) WithPositionID(id string) *Logger {
	return l.With(PositionID(id))
}

// WithTrader добавляет адрес трейдера
func (l *Logger) WithTrader(addr string) *Logger {
	return l.With(Trader(addr))
}

// Sugar возвращает sugared логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============ Доменные поля ============

func Symbol(s string) zap.Field     { return zap.String("symbol", s) }
func PositionID(s string) zap.Field { return zap.String("position_id", s) }
func Trader(s string) zap.Field     { return zap.String("trader", s) }
func Liquidator(s string) zap.Field { return zap.String("liquidator", s) }
func Side(s string) zap.Field       { return zap.String("side", s) }
func State(s string) zap.Field      { return zap.String("state", s) }
func Component(s string) zap.Field  { return zap.String("component", s) }
func RequestID(s string) zap.Field  { return zap.String("request_id", s) }
func Source(s string) zap.Field     { return zap.String("source", s) }
func Latency(ms float64) zap.Field  { return zap.Float64("latency_ms", ms) }
func MarginRatio(bps int64) zap.Field { return zap.Int64("margin_ratio_bps", bps) }

// Decimal пишет decimal как строку без потери точности
func Decimal(key string, d decimal.Decimal) zap.Field { return zap.String(key, d.String()) }

func Price(d decimal.Decimal) zap.Field  { return Decimal("price", d) }
func Size(d decimal.Decimal) zap.Field   { return Decimal("size", d) }
func Amount(d decimal.Decimal) zap.Field { return Decimal("amount", d) }
func PNL(d decimal.Decimal) zap.Field    { return Decimal("pnl", d) }

// Переэкспорт конструкторов zap, чтобы пакеты не импортировали zap напрямую
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Uint64  = zap.Uint64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Dur     = zap.Duration
	Time    = zap.Time
)
