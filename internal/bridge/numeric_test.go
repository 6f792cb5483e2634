package bridge

import (
	"errors"
	"strconv"
	"testing"
)

func TestFormatPeriod(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1e12, "1e12"},
		{5e11, "5e11"},
		{2.5e11, "2.5e11"},
		{1e6, "1e6"},
		{1000, "1000"},
		{1, "1"},
		{0.5, "0.5"},
		{1e-7, "1e-7"},
	}

	for _, tt := range tests {
		if got := formatPeriod(tt.in); got != tt.want {
			t.Errorf("formatPeriod(%g) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseUint(t *testing.T) {
	v, err := parseUint("18446744073709551615")
	if err != nil || v != 18446744073709551615 {
		t.Errorf("parseUint(max) = %d, %v", v, err)
	}

	for _, s := range []string{"", "-1", "+1", " 1", "1.0", "0x10", "18446744073709551616"} {
		_, err := parseUint(s)
		var argErr *ArgumentError
		if !errors.As(err, &argErr) || argErr.Kind != ArgInvalidUint {
			t.Errorf("parseUint(%q) error = %v, want invalid u64", s, err)
		}
	}
}

func TestParseFloat(t *testing.T) {
	for s, want := range map[string]float64{"1.5": 1.5, "-2": -2, "1e-3": 0.001, ".5": 0.5} {
		v, err := parseFloat(s)
		if err != nil || v != want {
			t.Errorf("parseFloat(%q) = %g, %v", s, v, err)
		}
	}

	for _, s := range []string{"", "abc", "1.0V", "NaN", "Inf", "-inf", "1e999"} {
		_, err := parseFloat(s)
		var argErr *ArgumentError
		if !errors.As(err, &argErr) || argErr.Kind != ArgInvalidFloat {
			t.Errorf("parseFloat(%q) error = %v, want invalid double", s, err)
		}
	}
}

func TestArgumentErrorUnwrap(t *testing.T) {
	_, err := parseUint("x")
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("expected strconv.ErrSyntax in chain, got %v", err)
	}
	if err.Error() != "invalid u64 'x'" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
