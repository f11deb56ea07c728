package result

import (
	"errors"
	"strconv"
	"testing"
)

func TestOk(t *testing.T) {
	r := Ok("token")
	if !r.IsOk() || r.IsError() {
		t.Fatalf("Ok() variant mismatch: ok=%v error=%v", r.IsOk(), r.IsError())
	}
	if r.Get() != "token" {
		t.Fatalf("Get() = %q, want token", r.Get())
	}
	if r.Error() != nil {
		t.Fatalf("Error() = %v, want nil", r.Error())
	}
}

func TestErr(t *testing.T) {
	boom := errors.New("boom")
	r := Err[string](boom)
	if r.IsOk() || !r.IsError() {
		t.Fatalf("Err() variant mismatch: ok=%v error=%v", r.IsOk(), r.IsError())
	}
	if !errors.Is(r.Error(), boom) {
		t.Fatalf("Error() = %v, want boom", r.Error())
	}
	if r.Get() != "" {
		t.Fatalf("Get() = %q, want zero value", r.Get())
	}
	if r.Or("fallback") != "fallback" {
		t.Fatalf("Or() did not return fallback")
	}
}

func TestErrNilAndZeroValue(t *testing.T) {
	if err := Err[int](nil).Error(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("Err(nil).Error() = %v, want ErrUninitialized", err)
	}
	var zero Result[int]
	if !zero.IsError() {
		t.Fatalf("zero Result should be an error")
	}
	if _, err := zero.Unwrap(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("zero.Unwrap() error = %v, want ErrUninitialized", err)
	}
}

func TestFrom(t *testing.T) {
	if r := From(3, nil); !r.IsOk() || r.Get() != 3 {
		t.Fatalf("From(3, nil) = %+v", r)
	}
	if r := From(3, errors.New("x")); !r.IsError() {
		t.Fatalf("From(3, err) should be an error")
	}
}

func TestMatch(t *testing.T) {
	describe := func(r Result[int]) string {
		return Match(r,
			func(v int) string { return "ok:" + strconv.Itoa(v) },
			func(err error) string { return "error:" + err.Error() },
		)
	}
	if got := describe(Ok(7)); got != "ok:7" {
		t.Fatalf("Match(Ok) = %q", got)
	}
	if got := describe(Err[int](errors.New("nope"))); got != "error:nope" {
		t.Fatalf("Match(Err) = %q", got)
	}
}

func TestMap(t *testing.T) {
	length := func(s string) int { return len(s) }
	if r := Map(Ok("abcd"), length); r.Get() != 4 {
		t.Fatalf("Map(Ok) = %d, want 4", r.Get())
	}
	boom := errors.New("boom")
	if r := Map(Err[string](boom), length); !errors.Is(r.Error(), boom) {
		t.Fatalf("Map(Err) error = %v, want boom", r.Error())
	}
}
