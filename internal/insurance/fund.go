// Package insurance - страховой фонд: взносы, заявки на покрытие дефицита
// и ежегодное распределение вознаграждений участникам.
package insurance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// Ошибки фонда
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrNotGovernance          = errors.New("caller is not governance")
	ErrUnauthorizedClaimant   = errors.New("claimant is not authorized")
	ErrClaimNotFound          = errors.New("claim not found")
	ErrClaimTooLarge          = errors.New("claim exceeds max claim ratio of fund balance")
	ErrInvalidClaimTransition = errors.New("invalid claim status transition")
	ErrInsufficientBalance    = errors.New("insufficient fund balance")
	ErrRefundTooLarge         = errors.New("refund exceeds contribution")
	ErrDistributionTooSoon    = errors.New("rewards already distributed this period")
	ErrNoContributors         = errors.New("no contributors")
)

// Значения по умолчанию
const (
	DefaultMaxClaimRatioBps     = 1000 // 10% баланса на заявку
	DefaultRewardRateBps        = 500  // 5% баланса в год
	DefaultDistributionInterval = 365 * 24 * time.Hour
)

// Config - параметры фонда
type Config struct {
	Governance common.Address
	// Address - счёт фонда в залоговом токене
	Address common.Address

	MaxClaimRatioBps     int64
	RewardRateBps        int64
	DistributionInterval time.Duration
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxClaimRatioBps:     DefaultMaxClaimRatioBps,
		RewardRateBps:        DefaultRewardRateBps,
		DistributionInterval: DefaultDistributionInterval,
	}
}

// EventSink - получатель событий фонда
type EventSink interface {
	Publish(models.Event)
}

// Distribution - выплата вознаграждения участнику
type Distribution struct {
	Contributor common.Address  `json:"contributor"`
	Amount      decimal.Decimal `json:"amount"`
}

// Fund - страховой фонд
//
// Баланс фонда учитывается внутри (взносы минус выплаты), токены хранятся
// на счёте Config.Address. Переводы токена выполняются без удержания
// блокировки фонда.
type Fund struct {
	cfg   Config
	token ledger.Token
	clock utils.Clock
	log   *utils.Logger
	sink  EventSink

	mu                 sync.Mutex
	exposure           func() decimal.Decimal
	balance            decimal.Decimal
	totalContributions decimal.Decimal
	totalPaid          decimal.Decimal
	contributions      map[common.Address]decimal.Decimal
	claimants          map[common.Address]bool
	claims             map[uint64]*models.InsuranceClaim
	nextClaimID        uint64
	lastDistribution   time.Time
}

// NewFund создаёт фонд. Первое распределение возможно через
// DistributionInterval после создания.
func NewFund(cfg Config, token ledger.Token, clock utils.Clock, log *utils.Logger, sink EventSink) *Fund {
	def := DefaultConfig()
	if cfg.MaxClaimRatioBps <= 0 {
		cfg.MaxClaimRatioBps = def.MaxClaimRatioBps
	}
	if cfg.RewardRateBps <= 0 {
		cfg.RewardRateBps = def.RewardRateBps
	}
	if cfg.DistributionInterval <= 0 {
		cfg.DistributionInterval = def.DistributionInterval
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	clock = utils.ClockOrSystem(clock)

	return &Fund{
		cfg:              cfg,
		token:            token,
		clock:            clock,
		log:              log.WithComponent("insurance"),
		sink:             sink,
		balance:          decimal.Zero,
		totalPaid:        decimal.Zero,
		contributions:    make(map[common.Address]decimal.Decimal),
		claimants:        make(map[common.Address]bool),
		claims:           make(map[uint64]*models.InsuranceClaim),
		nextClaimID:      1,
		lastDistribution: clock.Now(),
	}
}

func (f *Fund) publish(e models.Event) {
	if f.sink != nil {
		f.sink.Publish(e)
	}
}

func (f *Fund) requireGovernance(caller common.Address) error {
	if f.cfg.Governance == (common.Address{}) || caller != f.cfg.Governance {
		return ErrNotGovernance
	}
	return nil
}

// Address возвращает счёт фонда
func (f *Fund) Address() common.Address { return f.cfg.Address }

// SetExposureProvider задаёт источник суммарной позиции системы для reserve ratio
func (f *Fund) SetExposureProvider(fn func() decimal.Decimal) {
	f.mu.Lock()
	f.exposure = fn
	f.mu.Unlock()
}

// AuthorizeClaimant разрешает или запрещает адресу подавать заявки
func (f *Fund) AuthorizeClaimant(caller, claimant common.Address, allowed bool) error {
	if err := f.requireGovernance(caller); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if allowed {
		f.claimants[claimant] = true
	} else {
		delete(f.claimants, claimant)
	}
	return nil
}

// IsAuthorizedClaimant проверяет право подачи заявок
func (f *Fund) IsAuthorizedClaimant(addr common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimants[addr]
}

// ============ Взносы ============

// Contribute переводит amount от contributor в фонд
func (f *Fund) Contribute(ctx context.Context, contributor common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	before, err := f.token.BalanceOf(ctx, f.cfg.Address)
	if err != nil {
		return fmt.Errorf("contribute: %w", err)
	}
	if err := f.token.Transfer(ctx, contributor, f.cfg.Address, amount); err != nil {
		return fmt.Errorf("contribute: %w", err)
	}
	after, err := f.token.BalanceOf(ctx, f.cfg.Address)
	if err != nil {
		return fmt.Errorf("contribute: %w", err)
	}
	// для токенов с комиссией учитывается фактически полученная сумма
	if received := after.Sub(before); received.LessThan(amount) {
		amount = received
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	f.mu.Lock()
	f.balance = f.balance.Add(amount)
	f.totalContributions = f.totalContributions.Add(amount)
	f.contributions[contributor] = f.contributions[contributor].Add(amount)
	balance := f.balance
	f.mu.Unlock()

	TotalContributions.Set(f.TotalContributions().InexactFloat64())
	Balance.Set(balance.InexactFloat64())
	f.publish(models.NewContributionEvent(contributor, amount, balance, f.clock.Now()))
	f.log.Info("insurance contribution",
		utils.String("contributor", contributor.Hex()),
		utils.Amount(amount),
		utils.Decimal("balance", balance),
	)
	return nil
}

// Refund возвращает ранее внесённый amount (откат взноса вызывающей операции)
func (f *Fund) Refund(ctx context.Context, contributor common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	f.mu.Lock()
	contributed, balance := f.contributions[contributor], f.balance
	if contributed.LessThan(amount) {
		f.mu.Unlock()
		return fmt.Errorf("%w: contributed %s, refund %s", ErrRefundTooLarge, contributed, amount)
	}
	if balance.LessThan(amount) {
		f.mu.Unlock()
		return fmt.Errorf("%w: balance %s, refund %s", ErrInsufficientBalance, balance, amount)
	}
	f.applyRefund(contributor, amount.Neg())
	balance = f.balance
	f.mu.Unlock()

	if err := f.token.Transfer(ctx, f.cfg.Address, contributor, amount); err != nil {
		f.mu.Lock()
		f.applyRefund(contributor, amount)
		f.mu.Unlock()
		return fmt.Errorf("refund: %w", err)
	}

	TotalContributions.Set(f.TotalContributions().InexactFloat64())
	Balance.Set(balance.InexactFloat64())
	f.publish(models.NewRefundEvent(contributor, amount, balance, f.clock.Now()))
	f.log.Info("insurance contribution refunded",
		utils.String("contributor", contributor.Hex()),
		utils.Amount(amount),
		utils.Decimal("balance", balance),
	)
	return nil
}

// applyRefund сдвигает учёт взноса на delta
// ВАЖНО: вызывается под lock'ом
func (f *Fund) applyRefund(contributor common.Address, delta decimal.Decimal) {
	f.balance = f.balance.Add(delta)
	f.totalContributions = f.totalContributions.Add(delta)
	c := f.contributions[contributor].Add(delta)
	if c.IsZero() {
		delete(f.contributions, contributor)
	} else {
		f.contributions[contributor] = c
	}
}

// ============ Заявки ============

// MaxClaimAmount - предельная сумма одной заявки (MaxClaimRatio от баланса)
func (f *Fund) MaxClaimAmount(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return utils.ApplyBps(f.balance, f.cfg.MaxClaimRatioBps), nil
}

// SubmitClaim создаёт заявку в статусе PENDING
func (f *Fund) SubmitClaim(_ context.Context, claimant common.Address, amount decimal.Decimal, reason string) (*models.InsuranceClaim, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	f.mu.Lock()
	if !f.claimants[claimant] {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedClaimant, claimant.Hex())
	}
	if limit := utils.ApplyBps(f.balance, f.cfg.MaxClaimRatioBps); amount.GreaterThan(limit) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: amount %s, limit %s", ErrClaimTooLarge, amount, limit)
	}
	c := &models.InsuranceClaim{
		ID:        f.nextClaimID,
		Claimant:  claimant,
		Amount:    amount,
		Reason:    reason,
		Timestamp: f.clock.Now(),
		Status:    models.ClaimPending,
	}
	f.nextClaimID++
	f.claims[c.ID] = c
	snapshot := *c
	f.mu.Unlock()

	f.recordClaim(&snapshot)
	return &snapshot, nil
}

// transition переводит заявку в статус to
// ВАЖНО: вызывается под lock'ом
func (f *Fund) transition(id uint64, to models.ClaimStatus) (*models.InsuranceClaim, error) {
	c, ok := f.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClaimNotFound, id)
	}
	if !c.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidClaimTransition, c.Status, to)
	}
	c.Status = to
	return c, nil
}

// ApproveClaim одобряет заявку
func (f *Fund) ApproveClaim(_ context.Context, caller common.Address, id uint64) (*models.InsuranceClaim, error) {
	return f.decide(caller, id, models.ClaimApproved)
}

// RejectClaim отклоняет заявку (терминальный статус)
func (f *Fund) RejectClaim(_ context.Context, caller common.Address, id uint64) (*models.InsuranceClaim, error) {
	return f.decide(caller, id, models.ClaimRejected)
}

func (f *Fund) decide(caller common.Address, id uint64, to models.ClaimStatus) (*models.InsuranceClaim, error) {
	if err := f.requireGovernance(caller); err != nil {
		return nil, err
	}
	f.mu.Lock()
	c, err := f.transition(id, to)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	snapshot := *c
	f.mu.Unlock()

	f.recordClaim(&snapshot)
	return &snapshot, nil
}

// PayClaim выплачивает одобренную заявку заявителю
func (f *Fund) PayClaim(ctx context.Context, caller common.Address, id uint64) (*models.InsuranceClaim, error) {
	if err := f.requireGovernance(caller); err != nil {
		return nil, err
	}

	f.mu.Lock()
	c, ok := f.claims[id]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrClaimNotFound, id)
	}
	if !c.Status.CanTransition(models.ClaimPaid) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidClaimTransition, c.Status, models.ClaimPaid)
	}
	if balance := f.balance; balance.LessThan(c.Amount) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: balance %s, claim %s", ErrInsufficientBalance, balance, c.Amount)
	}
	c.Status = models.ClaimPaid
	f.balance = f.balance.Sub(c.Amount)
	f.totalPaid = f.totalPaid.Add(c.Amount)
	claimant, amount := c.Claimant, c.Amount
	f.mu.Unlock()

	if err := f.token.Transfer(ctx, f.cfg.Address, claimant, amount); err != nil {
		f.mu.Lock()
		c.Status = models.ClaimApproved
		f.balance = f.balance.Add(amount)
		f.totalPaid = f.totalPaid.Sub(amount)
		f.mu.Unlock()
		return nil, fmt.Errorf("pay claim %d: %w", id, err)
	}

	f.mu.Lock()
	snapshot := *c
	balance := f.balance
	f.mu.Unlock()

	ClaimPayouts.Add(amount.InexactFloat64())
	Balance.Set(balance.InexactFloat64())
	f.recordClaim(&snapshot)
	return &snapshot, nil
}

func (f *Fund) recordClaim(c *models.InsuranceClaim) {
	Claims.WithLabelValues(string(c.Status)).Inc()
	f.publish(models.NewClaimEvent(c, f.clock.Now()))
	f.log.Info("insurance claim",
		utils.Uint64("claim_id", c.ID),
		utils.String("claimant", c.Claimant.Hex()),
		utils.Amount(c.Amount),
		utils.State(string(c.Status)),
	)
}

// Claim возвращает копию заявки
func (f *Fund) Claim(id uint64) (*models.InsuranceClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClaimNotFound, id)
	}
	snapshot := *c
	return &snapshot, nil
}

// Claims возвращает заявки по возрастанию ID. Пустой status - все.
func (f *Fund) Claims(status models.ClaimStatus) []*models.InsuranceClaim {
	f.mu.Lock()
	out := make([]*models.InsuranceClaim, 0, len(f.claims))
	for _, c := range f.claims {
		if status != "" && c.Status != status {
			continue
		}
		snapshot := *c
		out = append(out, &snapshot)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============ Вознаграждения ============

// DistributeRewards раз в DistributionInterval выплачивает RewardRate от
// баланса участникам пропорционально их взносам. Неудачный перевод
// участнику пропускается, его доля остаётся в фонде.
func (f *Fund) DistributeRewards(ctx context.Context) ([]Distribution, error) {
	now := f.clock.Now()

	f.mu.Lock()
	if next := f.lastDistribution.Add(f.cfg.DistributionInterval); now.Before(next) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: next distribution at %s", ErrDistributionTooSoon, next.Format(time.RFC3339))
	}
	if len(f.contributions) == 0 || !f.totalContributions.IsPositive() {
		f.mu.Unlock()
		return nil, ErrNoContributors
	}

	pool := utils.ApplyBps(f.balance, f.cfg.RewardRateBps)
	plan := make([]Distribution, 0, len(f.contributions))
	for addr, c := range f.contributions {
		share := utils.MulDiv(pool, c, f.totalContributions)
		if share.IsPositive() {
			plan = append(plan, Distribution{Contributor: addr, Amount: share})
		}
	}
	f.lastDistribution = now
	f.mu.Unlock()

	sort.Slice(plan, func(i, j int) bool { return plan[i].Contributor.Hex() < plan[j].Contributor.Hex() })

	paid := make([]Distribution, 0, len(plan))
	for _, d := range plan {
		if err := f.token.Transfer(ctx, f.cfg.Address, d.Contributor, d.Amount); err != nil {
			f.log.Warn("reward transfer failed", utils.String("contributor", d.Contributor.Hex()), utils.Err(err))
			continue
		}
		f.mu.Lock()
		f.balance = f.balance.Sub(d.Amount)
		f.totalPaid = f.totalPaid.Add(d.Amount)
		f.mu.Unlock()
		RewardsDistributed.Add(d.Amount.InexactFloat64())
		paid = append(paid, d)
	}

	Balance.Set(f.Balance().InexactFloat64())
	f.log.Info("insurance rewards distributed", utils.Int("contributors", len(paid)), utils.Decimal("pool", pool))
	return paid, nil
}

// ============ Состояние ============

// Balance возвращает баланс фонда
func (f *Fund) Balance() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

// TotalContributions возвращает сумму всех взносов
func (f *Fund) TotalContributions() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalContributions
}

// Contribution возвращает суммарный взнос участника
func (f *Fund) Contribution(addr common.Address) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contributions[addr]
}

// ReserveRatio - balance * 10000 / exposure (10000 при нулевой экспозиции)
func (f *Fund) ReserveRatio() int64 {
	f.mu.Lock()
	balance, exposure := f.balance, f.exposure
	f.mu.Unlock()
	return reserveRatio(balance, exposure)
}

func reserveRatio(balance decimal.Decimal, exposure func() decimal.Decimal) int64 {
	if exposure == nil {
		return utils.BasisPoints
	}
	total := exposure()
	if !total.IsPositive() {
		return utils.BasisPoints
	}
	return utils.RatioBps(balance, total)
}

// Status возвращает сводку фонда
func (f *Fund) Status() models.InsuranceStatus {
	f.mu.Lock()
	pending := 0
	for _, c := range f.claims {
		if c.Status == models.ClaimPending {
			pending++
		}
	}
	s := models.InsuranceStatus{
		Balance:            f.balance,
		TotalContributions: f.totalContributions,
		TotalPaid:          f.totalPaid,
		PendingClaims:      pending,
		Contributors:       len(f.contributions),
		LastDistribution:   f.lastDistribution,
	}
	exposure := f.exposure
	f.mu.Unlock()

	s.ReserveRatio = reserveRatio(s.Balance, exposure)
	return s
}
