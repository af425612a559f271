package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"perpetual/internal/models"
	"perpetual/pkg/crypto"
	"perpetual/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Engine    EngineConfig
	Oracle    OracleConfig
	Keeper    KeeperConfig
	Insurance InsuranceConfig
	Logging   LoggingConfig

	// MarketsFile - YAML с начальными рынками, используется при пустой БД
	MarketsFile string
	Markets     []models.MarketSeed
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	// AllowedOrigins - CORS и Origin websocket. Пусто или "*" - любой origin.
	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// EventBufferSize - очередь событий между движком и журналом
	EventBufferSize int
	// EventRetention - срок хранения журнала событий (0 - хранить всё)
	EventRetention time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// GovernanceTokenHash - bcrypt хеш токена governance API.
	// Пусто - governance endpoints отключены.
	GovernanceTokenHash string
	// Лимит неудачных попыток аутентификации на IP (token bucket)
	AuthFailureRate  float64
	AuthFailureBurst float64
	// SignatureMaxAge - срок действия подписи запроса трейдера
	SignatureMaxAge time.Duration
}

// EngineConfig - параметры движка и адреса протокола
type EngineConfig struct {
	Governance common.Address
	Address    common.Address // адрес движка как заявителя фонда
	Vault      common.Address // счёт хранилища залога

	FundingInterval     time.Duration
	FundingMinInterval  time.Duration
	MaxFundingRateBps   int64
	HoldingFeeBpsPerDay int64

	MinReward decimal.Decimal
	MaxReward decimal.Decimal

	MaxLiquidationsPerWindow int
	LiquidationWindow        time.Duration

	// ReentryWait - ожидание внешнего вызова чужой операции до признания повторным входом
	ReentryWait time.Duration

	SettlePnLOnClose bool
	TWAPPeriod       time.Duration

	// Genesis - начальные балансы залогового токена (симуляция):
	// LEDGER_GENESIS=0xabc...:10000,0xdef...:500
	Genesis map[common.Address]decimal.Decimal
}

// OracleConfig - параметры агрегатора цен
type OracleConfig struct {
	MaxPriceAge     time.Duration
	MinConfidence   int
	MinValidSources int
	MaxDeviationBps int64
	HistorySize     int
	HistorySymbols  int

	// ManualWeight - вес ручного источника (0 - отключён)
	ManualWeight int64

	HTTPSources []HTTPSourceConfig
	HTTPTimeout time.Duration

	RetryAttempts int
}

// HTTPSourceConfig - внешний источник цен.
// ORACLE_HTTP_SOURCES=name|weight|url,... где url содержит {symbol}.
type HTTPSourceConfig struct {
	Name   string
	Weight int64
	URL    string
}

// KeeperConfig - бот-ликвидатор
type KeeperConfig struct {
	Enabled     bool
	Address     common.Address
	Beneficiary common.Address

	UpdateInterval     time.Duration
	RunInterval        time.Duration
	ProfitThreshold    decimal.Decimal
	MaxGasPrice        uint64
	DiscoveryBufferBps int64
	MaxBatchSize       int
}

// InsuranceConfig - страховой фонд
type InsuranceConfig struct {
	Enabled              bool
	Address              common.Address
	MaxClaimRatioBps     int64
	RewardRateBps        int64
	DistributionInterval time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// LogConfig переводит настройки в utils.LogConfig
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{Level: l.Level, Format: l.Format, Output: l.Output, Development: l.Development}
}

// Load загружает .env (если есть), затем конфигурацию из переменных окружения
// и файл рынков. Переменные окружения процесса имеют приоритет над .env.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return LoadFromEnv()
}

// LoadFromEnv загружает конфигурацию только из переменных окружения
func LoadFromEnv() (*Config, error) {
	p := &envParser{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			AllowedOrigins:  getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			EventBufferSize: getEnvAsInt("EVENT_BUFFER_SIZE", 4096),
			EventRetention:  getEnvAsDuration("EVENT_RETENTION", 0),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "perpetual"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			GovernanceTokenHash: getEnv("GOVERNANCE_TOKEN_HASH", ""),
			AuthFailureRate:     getEnvAsFloat("AUTH_FAILURE_RATE", 0.2),
			AuthFailureBurst:    getEnvAsFloat("AUTH_FAILURE_BURST", 5),
			SignatureMaxAge:     getEnvAsDuration("SIGNATURE_MAX_AGE", 5*time.Minute),
		},
		Engine: EngineConfig{
			Governance:               p.address("GOVERNANCE_ADDRESS", ""),
			Address:                  p.address("ENGINE_ADDRESS", "0x000000000000000000000000000000000000e001"),
			Vault:                    p.address("VAULT_ADDRESS", "0x000000000000000000000000000000000000feed"),
			FundingInterval:          getEnvAsDuration("FUNDING_INTERVAL", 8*time.Hour),
			FundingMinInterval:       getEnvAsDuration("FUNDING_MIN_INTERVAL", time.Minute),
			MaxFundingRateBps:        int64(getEnvAsInt("MAX_FUNDING_RATE_BPS", 100)),
			HoldingFeeBpsPerDay:      int64(getEnvAsInt("HOLDING_FEE_BPS_PER_DAY", 0)),
			MinReward:                p.decimal("MIN_LIQUIDATION_REWARD", "1"),
			MaxReward:                p.decimal("MAX_LIQUIDATION_REWARD", "10000"),
			MaxLiquidationsPerWindow: getEnvAsInt("MAX_LIQUIDATIONS_PER_WINDOW", 20),
			LiquidationWindow:        getEnvAsDuration("LIQUIDATION_WINDOW", time.Minute),
			ReentryWait:              getEnvAsDuration("ENGINE_REENTRY_WAIT", 500*time.Millisecond),
			SettlePnLOnClose:         getEnvAsBool("SETTLE_PNL_ON_CLOSE", false),
			TWAPPeriod:               getEnvAsDuration("TWAP_PERIOD", 5*time.Minute),
			Genesis:                  p.balances("LEDGER_GENESIS"),
		},
		Oracle: OracleConfig{
			MaxPriceAge:     getEnvAsDuration("ORACLE_MAX_PRICE_AGE", time.Hour),
			MinConfidence:   getEnvAsInt("ORACLE_MIN_CONFIDENCE", 80),
			MinValidSources: getEnvAsInt("ORACLE_MIN_VALID_SOURCES", 1),
			MaxDeviationBps: int64(getEnvAsInt("ORACLE_MAX_DEVIATION_BPS", 500)),
			HistorySize:     getEnvAsInt("ORACLE_HISTORY_SIZE", 720),
			HistorySymbols:  getEnvAsInt("ORACLE_HISTORY_SYMBOLS", 256),
			ManualWeight:    int64(getEnvAsInt("ORACLE_MANUAL_WEIGHT", 1)),
			HTTPSources:     p.sources("ORACLE_HTTP_SOURCES"),
			HTTPTimeout:     getEnvAsDuration("ORACLE_HTTP_TIMEOUT", 5*time.Second),
			RetryAttempts:   getEnvAsInt("ORACLE_RETRY_ATTEMPTS", 3),
		},
		Keeper: KeeperConfig{
			Enabled:            getEnvAsBool("KEEPER_ENABLED", true),
			Address:            p.address("KEEPER_ADDRESS", "0x00000000000000000000000000000000000000b0"),
			Beneficiary:        p.address("KEEPER_BENEFICIARY", ""),
			UpdateInterval:     getEnvAsDuration("KEEPER_UPDATE_INTERVAL", 30*time.Second),
			RunInterval:        getEnvAsDuration("KEEPER_RUN_INTERVAL", 15*time.Second),
			ProfitThreshold:    p.decimal("KEEPER_PROFIT_THRESHOLD", "1"),
			MaxGasPrice:        uint64(getEnvAsInt("KEEPER_MAX_GAS_PRICE", 500)),
			DiscoveryBufferBps: int64(getEnvAsInt("KEEPER_DISCOVERY_BUFFER_BPS", 200)),
			MaxBatchSize:       getEnvAsInt("KEEPER_MAX_BATCH_SIZE", 20),
		},
		Insurance: InsuranceConfig{
			Enabled:              getEnvAsBool("INSURANCE_ENABLED", true),
			Address:              p.address("INSURANCE_ADDRESS", "0x000000000000000000000000000000000000f001"),
			MaxClaimRatioBps:     int64(getEnvAsInt("INSURANCE_MAX_CLAIM_RATIO_BPS", 1000)),
			RewardRateBps:        int64(getEnvAsInt("INSURANCE_REWARD_RATE_BPS", 500)),
			DistributionInterval: getEnvAsDuration("INSURANCE_DISTRIBUTION_INTERVAL", 365*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		MarketsFile: getEnv("MARKETS_FILE", ""),
	}

	if err := p.err(); err != nil {
		return nil, err
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	if cfg.MarketsFile != "" {
		seeds, err := LoadMarkets(cfg.MarketsFile)
		if err != nil {
			return nil, err
		}
		cfg.Markets = seeds
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// Без governance адреса нельзя создать ни одного рынка
	if c.Engine.Governance == (common.Address{}) {
		return fmt.Errorf("GOVERNANCE_ADDRESS is required")
	}

	if c.Security.GovernanceTokenHash != "" {
		if _, err := crypto.HashCost(c.Security.GovernanceTokenHash); err != nil {
			return fmt.Errorf("GOVERNANCE_TOKEN_HASH must be a bcrypt hash: %w", err)
		}
	}

	if c.Security.SignatureMaxAge <= 0 {
		return fmt.Errorf("SIGNATURE_MAX_AGE must be positive")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	// Счета протокола не должны совпадать: балансы учитываются раздельно
	accounts := map[common.Address]string{}
	for name, addr := range map[string]common.Address{
		"ENGINE_ADDRESS":    c.Engine.Address,
		"VAULT_ADDRESS":     c.Engine.Vault,
		"INSURANCE_ADDRESS": c.Insurance.Address,
		"KEEPER_ADDRESS":    c.Keeper.Address,
	} {
		if addr == (common.Address{}) {
			return fmt.Errorf("%s must not be the zero address", name)
		}
		if other, ok := accounts[addr]; ok {
			return fmt.Errorf("%s and %s must differ", other, name)
		}
		accounts[addr] = name
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Server.EventBufferSize <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.Server.EventBufferSize)
	}
	if c.Server.EventRetention < 0 {
		return fmt.Errorf("EVENT_RETENTION cannot be negative, got %v", c.Server.EventRetention)
	}

	// Фандинг
	if c.Engine.FundingInterval <= 0 {
		return fmt.Errorf("FUNDING_INTERVAL must be positive, got %v", c.Engine.FundingInterval)
	}
	if c.Engine.FundingMinInterval < 0 || c.Engine.FundingMinInterval > c.Engine.FundingInterval {
		return fmt.Errorf("FUNDING_MIN_INTERVAL must be within [0, FUNDING_INTERVAL], got %v", c.Engine.FundingMinInterval)
	}
	if c.Engine.MaxFundingRateBps <= 0 || c.Engine.MaxFundingRateBps > 10000 {
		return fmt.Errorf("MAX_FUNDING_RATE_BPS must be within (0, 10000], got %d", c.Engine.MaxFundingRateBps)
	}
	if c.Engine.HoldingFeeBpsPerDay < 0 || c.Engine.HoldingFeeBpsPerDay > 10000 {
		return fmt.Errorf("HOLDING_FEE_BPS_PER_DAY must be within [0, 10000], got %d", c.Engine.HoldingFeeBpsPerDay)
	}

	// Вознаграждение ликвидатора
	if c.Engine.MinReward.IsNegative() {
		return fmt.Errorf("MIN_LIQUIDATION_REWARD cannot be negative, got %s", c.Engine.MinReward)
	}
	if !c.Engine.MaxReward.IsPositive() || c.Engine.MaxReward.LessThan(c.Engine.MinReward) {
		return fmt.Errorf("MAX_LIQUIDATION_REWARD must be positive and >= MIN_LIQUIDATION_REWARD, got %s", c.Engine.MaxReward)
	}

	// Circuit breaker: 0 - без лимита
	if c.Engine.MaxLiquidationsPerWindow < 0 {
		return fmt.Errorf("MAX_LIQUIDATIONS_PER_WINDOW cannot be negative, got %d", c.Engine.MaxLiquidationsPerWindow)
	}
	if c.Engine.ReentryWait <= 0 {
		return fmt.Errorf("ENGINE_REENTRY_WAIT must be positive, got %v", c.Engine.ReentryWait)
	}
	if c.Engine.LiquidationWindow <= 0 {
		return fmt.Errorf("LIQUIDATION_WINDOW must be positive, got %v", c.Engine.LiquidationWindow)
	}
	if c.Engine.TWAPPeriod <= 0 {
		return fmt.Errorf("TWAP_PERIOD must be positive, got %v", c.Engine.TWAPPeriod)
	}

	// Оракул
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 100 {
		return fmt.Errorf("ORACLE_MIN_CONFIDENCE must be within [0, 100], got %d", c.Oracle.MinConfidence)
	}
	if c.Oracle.MinValidSources < 1 {
		return fmt.Errorf("ORACLE_MIN_VALID_SOURCES must be at least 1, got %d", c.Oracle.MinValidSources)
	}
	if c.Oracle.ManualWeight < 0 {
		return fmt.Errorf("ORACLE_MANUAL_WEIGHT cannot be negative, got %d", c.Oracle.ManualWeight)
	}
	available := len(c.Oracle.HTTPSources)
	if c.Oracle.ManualWeight > 0 {
		available++
	}
	if available < c.Oracle.MinValidSources {
		return fmt.Errorf("ORACLE_MIN_VALID_SOURCES=%d exceeds configured sources (%d)", c.Oracle.MinValidSources, available)
	}
	if c.Oracle.RetryAttempts < 1 || c.Oracle.RetryAttempts > 10 {
		return fmt.Errorf("ORACLE_RETRY_ATTEMPTS must be within [1, 10], got %d", c.Oracle.RetryAttempts)
	}

	// Кипер
	if c.Keeper.Enabled {
		if c.Keeper.RunInterval <= 0 {
			return fmt.Errorf("KEEPER_RUN_INTERVAL must be positive, got %v", c.Keeper.RunInterval)
		}
		if c.Keeper.MaxBatchSize <= 0 {
			return fmt.Errorf("KEEPER_MAX_BATCH_SIZE must be positive, got %d", c.Keeper.MaxBatchSize)
		}
		if c.Keeper.DiscoveryBufferBps < 0 {
			return fmt.Errorf("KEEPER_DISCOVERY_BUFFER_BPS cannot be negative, got %d", c.Keeper.DiscoveryBufferBps)
		}
	}

	// Страховой фонд
	if c.Insurance.Enabled {
		if c.Insurance.MaxClaimRatioBps <= 0 || c.Insurance.MaxClaimRatioBps > 10000 {
			return fmt.Errorf("INSURANCE_MAX_CLAIM_RATIO_BPS must be within (0, 10000], got %d", c.Insurance.MaxClaimRatioBps)
		}
		if c.Insurance.RewardRateBps < 0 || c.Insurance.RewardRateBps > 10000 {
			return fmt.Errorf("INSURANCE_REWARD_RATE_BPS must be within [0, 10000], got %d", c.Insurance.RewardRateBps)
		}
		if c.Insurance.DistributionInterval <= 0 {
			return fmt.Errorf("INSURANCE_DISTRIBUTION_INTERVAL must be positive, got %v", c.Insurance.DistributionInterval)
		}
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// ============ Разбор типизированных значений ============

// envParser накапливает ошибки разбора адресов и сумм: опечатка в адресе
// не должна молча превращаться в значение по умолчанию
type envParser struct {
	errs []error
}

func (p *envParser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func (p *envParser) address(key, defaultValue string) common.Address {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return common.Address{}
	}
	addr, err := utils.ParseAddress(raw)
	if err != nil {
		p.fail(key, err)
	}
	return addr
}

func (p *envParser) decimal(key, defaultValue string) decimal.Decimal {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, err)
		return decimal.Zero
	}
	return d
}

// balances разбирает список address:amount
func (p *envParser) balances(key string) map[common.Address]decimal.Decimal {
	out := make(map[common.Address]decimal.Decimal)
	for _, item := range getEnvAsList(key, nil) {
		addrStr, amountStr, ok := strings.Cut(item, ":")
		if !ok {
			p.fail(key, fmt.Errorf("expected address:amount, got %q", item))
			continue
		}
		addr, err := utils.ParseAddress(addrStr)
		if err != nil {
			p.fail(key, err)
			continue
		}
		amount, err := utils.ParseAmount(amountStr)
		if err != nil {
			p.fail(key, err)
			continue
		}
		out[addr] = out[addr].Add(amount)
	}
	return out
}

// sources разбирает список name|weight|url
func (p *envParser) sources(key string) []HTTPSourceConfig {
	var out []HTTPSourceConfig
	seen := make(map[string]bool)
	for _, item := range getEnvAsList(key, nil) {
		parts := strings.SplitN(item, "|", 3)
		if len(parts) != 3 {
			p.fail(key, fmt.Errorf("expected name|weight|url, got %q", item))
			continue
		}
		weight, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || weight <= 0 {
			p.fail(key, fmt.Errorf("source %q: weight must be a positive integer", parts[0]))
			continue
		}
		src := HTTPSourceConfig{Name: strings.TrimSpace(parts[0]), Weight: weight, URL: strings.TrimSpace(parts[2])}
		if src.Name == "" || !strings.Contains(src.URL, "{symbol}") {
			p.fail(key, fmt.Errorf("source %q: name and url with {symbol} are required", item))
			continue
		}
		if seen[src.Name] {
			p.fail(key, fmt.Errorf("duplicate source %q", src.Name))
			continue
		}
		seen[src.Name] = true
		out = append(out, src)
	}
	return out
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
