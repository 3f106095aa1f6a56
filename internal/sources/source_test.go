package sources

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims and uppercases", "  aapl ", "AAPL"},
		{"class B dot to dash", "BRK.B", "BRK-B"},
		{"class A dot to dash", "bf.a", "BF-A"},
		{"four digit code gets Tokyo suffix", "7203", "7203.T"},
		{"already suffixed code unchanged", "7203.T", "7203.T"},
		{"dash form is stable", "BRK-B", "BRK-B"},
		{"five digit code untouched", "13010", "13010"},
		{"plain ticker unchanged", "MSFT", "MSFT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSymbol(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Normalization is idempotent.
			if again := NormalizeSymbol(got); again != got {
				t.Errorf("NormalizeSymbol(%q) = %q, not idempotent", got, again)
			}
		})
	}
}

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain ticker", "AAPL", true},
		{"dash class", "BRK-B", true},
		{"tokyo suffix", "7203.T", true},
		{"empty", "", false},
		{"too long", "ABCDEFGHIJK", false},
		{"ten chars is the limit", "ABCDEFGHIJ", true},
		{"lowercase rejected", "aapl", false},
		{"whitespace rejected", "AA PL", false},
		{"unicode rejected", "トヨタ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSymbol(tt.in); got != tt.want {
				t.Errorf("ValidateSymbol(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("sp500"); ok {
		t.Fatal("empty registry should not resolve sp500")
	}

	r.Register("csv", &CSVFileSource{path: "universe.csv"})
	r.Register("another", &CSVFileSource{path: "more.csv"})

	if _, ok := r.Get("csv"); !ok {
		t.Error("registered source not found")
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "another" || ids[1] != "csv" {
		t.Errorf("IDs() = %v, want sorted [another csv]", ids)
	}
}
