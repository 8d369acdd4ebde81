package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument holds per-symbol trading constraints used when sizing
// orders. Symbols are keyed in normalized BASE/QUOTE form.
type Instrument struct {
	Symbol       string  `yaml:"symbol"`
	QtyPrecision int     `yaml:"qty_precision"`
	MinQty       float64 `yaml:"min_qty"`
	MinNotional  float64 `yaml:"min_notional"`
}

type instrumentFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// InstrumentTable resolves symbols to their sizing constraints,
// falling back to a permissive default for unlisted symbols.
type InstrumentTable struct {
	bySymbol map[string]Instrument
}

// DefaultInstrument is used for symbols with no metadata entry.
var DefaultInstrument = Instrument{QtyPrecision: 8, MinQty: 0, MinNotional: 0}

// LoadInstruments reads instrument metadata from a YAML file. A
// missing file yields an empty table, not an error: metadata is an
// optional refinement.
func LoadInstruments(path string) (*InstrumentTable, error) {
	t := &InstrumentTable{bySymbol: make(map[string]Instrument)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}

	var file instrumentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for _, in := range file.Instruments {
		t.bySymbol[strings.ToUpper(in.Symbol)] = in
	}
	return t, nil
}

// Lookup returns the instrument for a normalized symbol.
func (t *InstrumentTable) Lookup(symbol string) Instrument {
	if t == nil {
		return DefaultInstrument
	}
	if in, ok := t.bySymbol[strings.ToUpper(symbol)]; ok {
		return in
	}
	return DefaultInstrument
}

// Len reports how many instruments are loaded.
func (t *InstrumentTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.bySymbol)
}
