package ladder

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// catalogDocument is the on-disk form of a catalog. Every decimal is carried
// as its exact string form so a reload reproduces identical levels.
type catalogDocument struct {
	Symbol      string          `json:"symbol"`
	StepPercent string          `json:"step_percent"`
	MinPrice    string          `json:"min_price"`
	MaxPrice    string          `json:"max_price"`
	TickSize    string          `json:"tick_size"`
	Levels      []levelDocument `json:"levels"`
}

type levelDocument struct {
	Index int    `json:"index"`
	Buy   string `json:"buy"`
	Sell  string `json:"sell,omitempty"`
}

// Store caches a catalog in a file keyed by its generating parameters.
type Store struct {
	Path string
}

// Load returns the cached catalog when the file exists and its generating
// parameters match params exactly; any other outcome is a miss.
func (s Store) Load(params Params) (*Catalog, bool) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, false
	}
	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	cached, err := paramsFromDocument(doc)
	if err != nil {
		return nil, false
	}
	if !cached.equal(params) {
		return nil, false
	}
	levels := make([]Level, 0, len(doc.Levels))
	for _, entry := range doc.Levels {
		buy, err := decimal.NewFromString(entry.Buy)
		if err != nil {
			return nil, false
		}
		level := Level{Index: entry.Index, Buy: buy}
		if entry.Sell != "" {
			sell, err := decimal.NewFromString(entry.Sell)
			if err != nil {
				return nil, false
			}
			level.Sell = sell
		}
		levels = append(levels, level)
	}
	if assertStrictlyIncreasing(levels) != nil {
		return nil, false
	}
	return &Catalog{params: params, levels: levels}, true
}

// Save rewrites the cache atomically (temp file then rename).
func (s Store) Save(catalog *Catalog) error {
	doc := catalogDocument{
		Symbol:      catalog.params.Symbol,
		StepPercent: catalog.params.StepPercent.String(),
		MinPrice:    catalog.params.MinPrice.String(),
		MaxPrice:    catalog.params.MaxPrice.String(),
		TickSize:    catalog.params.TickSize.String(),
		Levels:      make([]levelDocument, 0, len(catalog.levels)),
	}
	for _, level := range catalog.levels {
		entry := levelDocument{Index: level.Index, Buy: level.Buy.String()}
		if level.HasSell() {
			entry.Sell = level.Sell.String()
		}
		doc.Levels = append(doc.Levels, entry)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("create catalog temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close catalog temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	return nil
}

func paramsFromDocument(doc catalogDocument) (Params, error) {
	step, err := decimal.NewFromString(doc.StepPercent)
	if err != nil {
		return Params{}, err
	}
	minPrice, err := decimal.NewFromString(doc.MinPrice)
	if err != nil {
		return Params{}, err
	}
	maxPrice, err := decimal.NewFromString(doc.MaxPrice)
	if err != nil {
		return Params{}, err
	}
	tick, err := decimal.NewFromString(doc.TickSize)
	if err != nil {
		return Params{}, err
	}
	return Params{
		Symbol:      doc.Symbol,
		StepPercent: step,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		TickSize:    tick,
	}, nil
}

func (p Params) equal(other Params) bool {
	return p.Symbol == other.Symbol &&
		p.StepPercent.Equal(other.StepPercent) &&
		p.MinPrice.Equal(other.MinPrice) &&
		p.MaxPrice.Equal(other.MaxPrice) &&
		p.TickSize.Equal(other.TickSize)
}
