package config

import "testing"

func TestParse_FlatScalarPairs(t *testing.T) {
	cfg, err := Parse("page_size=8k,create=true")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.String("create", "") != "true" {
		t.Fatalf("expected create=true, got %q", cfg.String("create", ""))
	}
	sz, err := cfg.Size("page_size", 0)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sz != 8<<10 {
		t.Fatalf("expected 8192, got %d", sz)
	}
}

func TestParse_NestedBlock(t *testing.T) {
	cfg, err := Parse("checkpoint=(log_size=2g,wait=0),create=true")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sub := cfg.Sub("checkpoint")
	sz, err := sub.Size("log_size", 0)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sz != 2<<30 {
		t.Fatalf("expected 2GiB, got %d", sz)
	}
}

func TestParse_QuotedValue(t *testing.T) {
	cfg, err := Parse(`extensions="/usr/lib/ext.so"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.String("extensions", ""); got != "/usr/lib/ext.so" {
		t.Fatalf("expected unquoted path, got %q", got)
	}
}

func TestParse_EmptyStringIsEmptyConfig(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg) != 0 {
		t.Fatalf("expected empty config, got %v", cfg)
	}
}

func TestParse_BarePresenceIsBoolTrue(t *testing.T) {
	cfg, err := Parse("readonly")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Bool("readonly", false) {
		t.Fatal("expected bare key to parse as boolean true")
	}
}

func TestParse_EmptyKeyErrors(t *testing.T) {
	if _, err := Parse("=8k"); err == nil {
		t.Fatal("expected an error for an empty key")
	}
}

func TestParse_UnterminatedNestedErrors(t *testing.T) {
	if _, err := Parse("checkpoint=(log_size=2g"); err == nil {
		t.Fatal("expected an error for an unterminated nested block")
	}
}

func TestParseSize_AllSuffixes(t *testing.T) {
	cases := map[string]int64{
		"1k": 1 << 10,
		"1m": 1 << 20,
		"1g": 1 << 30,
		"1t": 1 << 40,
		"1p": 1 << 50,
		"42": 42,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSize_InvalidErrors(t *testing.T) {
	if _, err := ParseSize("abc"); err == nil {
		t.Fatal("expected an error for a non-numeric size")
	}
}
