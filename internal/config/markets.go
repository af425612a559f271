package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// marketsFile - формат MARKETS_FILE
//
//	markets:
//	  - symbol: ETH/USD
//	    max_leverage: 20
//	    risk_parameters:
//	      initial_margin_ratio: 1000
//	      maintenance_margin_ratio: 500
//	      ...
//	  - symbol: BTC/USD
//	    max_leverage: 10
//	    active: false
type marketsFile struct {
	Markets []models.MarketSeed `yaml:"markets"`
}

// LoadMarkets читает начальные рынки из YAML файла
func LoadMarkets(path string) ([]models.MarketSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MARKETS_FILE: %w", err)
	}
	defer f.Close()

	seeds, err := ParseMarkets(f)
	if err != nil {
		return nil, fmt.Errorf("MARKETS_FILE %s: %w", path, err)
	}
	return seeds, nil
}

// ParseMarkets разбирает и валидирует YAML с рынками.
// Неизвестные поля - ошибка: опечатка в параметре риска не должна
// молча заменяться значением по умолчанию.
func ParseMarkets(r io.Reader) ([]models.MarketSeed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file marketsFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	seen := make(map[string]bool, len(file.Markets))
	for i := range file.Markets {
		seed := &file.Markets[i]

		symbol, err := utils.NormalizeSymbol(seed.Symbol)
		if err != nil {
			return nil, fmt.Errorf("market #%d: %w", i+1, err)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("market %s: duplicate symbol", symbol)
		}
		seen[symbol] = true
		seed.Symbol = symbol

		if seed.MaxLeverage <= 0 {
			return nil, fmt.Errorf("market %s: max_leverage must be positive", symbol)
		}
		if seed.RiskParameters != nil {
			if err := seed.RiskParameters.Validate(); err != nil {
				return nil, fmt.Errorf("market %s: %w", symbol, err)
			}
		}
	}

	return file.Markets, nil
}
