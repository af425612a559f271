package models

// RiskStatus - статус риска позиции
type RiskStatus string

// Статусы риска позиции
const (
	RiskHealthy         RiskStatus = "HEALTHY"
	RiskPartialEligible RiskStatus = "PARTIAL_LIQUIDATION_ELIGIBLE" // ratio в [threshold, mmr)
	RiskFullEligible    RiskStatus = "FULL_LIQUIDATION_ELIGIBLE"    // ratio < threshold
	RiskClosed          RiskStatus = "CLOSED"                       // терминальный
)

// ValidRiskTransitions определяет допустимые переходы статуса риска.
// Цена может вернуться, поэтому переходы между открытыми статусами двусторонние.
var ValidRiskTransitions = map[RiskStatus][]RiskStatus{
	RiskHealthy:         {RiskPartialEligible, RiskFullEligible, RiskClosed},
	RiskPartialEligible: {RiskHealthy, RiskFullEligible, RiskClosed},
	RiskFullEligible:    {RiskHealthy, RiskPartialEligible, RiskClosed},
	RiskClosed:          {},
}

// CanTransition проверяет допустимость перехода статуса.
// Переход в тот же статус допустим для открытых позиций.
func (s RiskStatus) CanTransition(to RiskStatus) bool {
	allowed, ok := ValidRiskTransitions[s]
	if !ok {
		return false
	}
	if s == to {
		return s != RiskClosed
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// IsLiquidatable - статус допускает ликвидацию
func (s RiskStatus) IsLiquidatable() bool {
	return s == RiskPartialEligible || s == RiskFullEligible
}

// ClassifyRisk определяет статус по margin ratio (bp) и параметрам рынка
func ClassifyRisk(ratio int64, params RiskParameters) RiskStatus {
	switch {
	case ratio >= params.MaintenanceMarginRatio:
		return RiskHealthy
	case ratio >= params.LiquidationThreshold:
		return RiskPartialEligible
	default:
		return RiskFullEligible
	}
}
