package fingerprint

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestDeriveIsWellFormedAndSeeded(t *testing.T) {
	s := Signals{UserAgent: "Mozilla/5.0", AcceptLanguage: "en", AcceptEncoding: "gzip"}

	a, err := Derive(nil, s)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive(nil, s)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !WellFormed(a) || !WellFormed(b) {
		t.Fatalf("derived fingerprints must be well formed: %q %q", a, b)
	}
	if a == b {
		t.Fatalf("random seed must make fingerprints differ")
	}
}

func TestDeriveDeterministicForFixedSeed(t *testing.T) {
	s := Signals{UserAgent: "UA"}
	seed := bytes.Repeat([]byte{7}, SeedSize)

	a, _ := Derive(bytes.NewReader(seed), s)
	b, _ := Derive(bytes.NewReader(seed), s)
	if a != b {
		t.Fatalf("same seed and signals must give same fingerprint")
	}
	c, _ := Derive(bytes.NewReader(seed), Signals{UserAgent: "other"})
	if a == c {
		t.Fatalf("different signals must change the fingerprint")
	}
}

func TestResolveReusesExisting(t *testing.T) {
	existing, _ := Derive(nil, Signals{})

	fp, issued, err := Resolve(nil, existing, Signals{})
	if err != nil || issued || fp != existing {
		t.Fatalf("expected reuse, got fp=%q issued=%v err=%v", fp, issued, err)
	}

	fp, issued, err = Resolve(nil, "garbage", Signals{})
	if err != nil || !issued || fp == "garbage" || !WellFormed(fp) {
		t.Fatalf("expected fresh fingerprint, got fp=%q issued=%v err=%v", fp, issued, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestDerivePropagatesRandomFailure(t *testing.T) {
	if _, err := Derive(failingReader{}, Signals{}); err == nil {
		t.Fatalf("expected random source error")
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", "UA")
	r.Header.Set("Accept-Language", "de")
	r.Header.Set("Accept-Encoding", "br")

	s := FromRequest(r)
	if s.UserAgent != "UA" || s.AcceptLanguage != "de" || s.AcceptEncoding != "br" {
		t.Fatalf("unexpected signals %+v", s)
	}
}
