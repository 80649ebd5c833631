package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New("binance", CodeExchange,
		WithHTTP(400),
		WithMessage("order rejected"),
		WithRawCode("-2011"),
		WithRawMessage("Unknown order sent."))

	got := err.Error()
	want := `venue=binance code=exchange_error http=400 message="order rejected" raw_code="-2011" raw_msg="Unknown order sent."`
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringDefaults(t *testing.T) {
	err := New("", CodeNetwork)
	got := err.Error()
	if got != "venue=unknown code=network" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := New("binance", CodeNetwork, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	wrapped := fmt.Errorf("place order: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("expected cause through an outer wrap")
	}
}

func TestHasCode(t *testing.T) {
	err := New("binance", CodeInvalid, WithMessage("qty below minimum"))
	if !HasCode(err, CodeInvalid) {
		t.Error("expected CodeInvalid")
	}
	if HasCode(err, CodeNetwork) {
		t.Error("did not expect CodeNetwork")
	}
	if HasCode(errors.New("plain"), CodeInvalid) {
		t.Error("plain errors carry no code")
	}

	wrapped := fmt.Errorf("pass failed: %w", err)
	if !HasCode(wrapped, CodeInvalid) {
		t.Error("expected code through a wrap")
	}
}

func TestVenueCode(t *testing.T) {
	err := New("binance", CodeExchange, WithRawCode("-1013"))
	code, ok := VenueCode(err)
	if !ok || code != "-1013" {
		t.Fatalf("VenueCode = %q, %v", code, ok)
	}

	if _, ok := VenueCode(New("binance", CodeNetwork)); ok {
		t.Error("no raw code expected")
	}
	if _, ok := VenueCode(errors.New("plain")); ok {
		t.Error("plain errors carry no venue code")
	}
}
