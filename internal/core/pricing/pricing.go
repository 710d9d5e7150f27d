package pricing

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

// Calculator converts a collection's category and weight into awarded points.
// Injected into the redemption processor so pricing policy stays a single
// deterministic function, not logic scattered across paths.
type Calculator interface {
	// Points returns the award for one collection. Deterministic:
	// the same (category, weight) always yields the same award.
	Points(category model.Category, weight decimal.Decimal) int64
}

// RateTable is a Calculator backed by per-category points-per-kilogram rates.
// Points are floored to whole points; awards are never negative.
type RateTable struct {
	rates map[model.Category]decimal.Decimal

	// Fingerprint is the SHA-256 of the rate file this table was loaded
	// from, or empty for the compiled-in defaults. Surfaced in snapshots
	// for staleness detection after a rate change.
	Fingerprint string
}

// DefaultRates returns the compiled-in rate table (points per kg).
func DefaultRates() *RateTable {
	return &RateTable{rates: map[model.Category]decimal.Decimal{
		model.CategoryPlastic:    decimal.NewFromInt(12),
		model.CategoryPaper:      decimal.NewFromInt(8),
		model.CategoryGlass:      decimal.NewFromInt(10),
		model.CategoryMetal:      decimal.NewFromInt(15),
		model.CategoryElectronic: decimal.NewFromInt(25),
		model.CategoryTextile:    decimal.NewFromInt(9),
		model.CategoryOther:      decimal.NewFromInt(5),
	}}
}

// Points implements Calculator: floor(weight × rate), clamped at zero.
func (t *RateTable) Points(category model.Category, weight decimal.Decimal) int64 {
	rate, ok := t.rates[category]
	if !ok {
		rate = t.rates[model.CategoryOther]
	}
	points := weight.Mul(rate).Floor().IntPart()
	if points < 0 {
		return 0
	}
	return points
}

// Rate returns the points-per-kg rate for a category.
func (t *RateTable) Rate(category model.Category) decimal.Decimal {
	if rate, ok := t.rates[category]; ok {
		return rate
	}
	return t.rates[model.CategoryOther]
}

// rawRates is the on-disk YAML shape: category name to points-per-kg rate.
type rawRates struct {
	Rates map[string]string `yaml:"rates"`
}

// LoadDir loads a rate table from the first *.yaml file in dir, falling back
// to the compiled-in defaults when the directory does not exist or holds no
// rate files. A malformed file is an error, not a silent fallback.
func LoadDir(dir string) (*RateTable, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return DefaultRates(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("pricing rates dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pricing rates path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading pricing rates dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		return loadFile(filepath.Join(dir, e.Name()))
	}

	return DefaultRates(), nil
}

func loadFile(path string) (*RateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate file %s: %w", path, err)
	}

	var raw rawRates
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing rate file %s: %w", path, err)
	}
	if len(raw.Rates) == 0 {
		return nil, fmt.Errorf("rate file %s: rates must not be empty", path)
	}

	table := DefaultRates()
	for name, value := range raw.Rates {
		category := model.Category(name)
		if !model.ValidCategory(category) {
			return nil, fmt.Errorf("rate file %s: unknown category %q", path, name)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("rate file %s: category %q: invalid rate %q", path, name, value)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("rate file %s: category %q: rate must be non-negative", path, name)
		}
		table.rates[category] = rate
	}

	table.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
	return table, nil
}
