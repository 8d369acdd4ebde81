package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadInstruments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	yaml := `instruments:
  - symbol: BTC/USDT
    qty_precision: 3
    min_qty: 0.001
    min_notional: 5
  - symbol: ETH/USDT
    qty_precision: 2
    min_qty: 0.01
    min_notional: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadInstruments(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 instruments, got %d", table.Len())
	}

	btc := table.Lookup("btc/usdt")
	if btc.QtyPrecision != 3 || btc.MinQty != 0.001 {
		t.Errorf("unexpected BTC instrument: %+v", btc)
	}

	// Unknown symbols fall back to the permissive default.
	other := table.Lookup("DOGE/USDT")
	if other.QtyPrecision != DefaultInstrument.QtyPrecision {
		t.Errorf("expected default instrument, got %+v", other)
	}
}

func TestLoadInstrumentsMissingFile(t *testing.T) {
	table, err := LoadInstruments(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d", table.Len())
	}
}
