package logging

import "testing"

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		lg, err := New(env)
		if err != nil || lg == nil {
			t.Fatalf("New(%q) failed: %v", env, err)
		}
		_ = lg.Sync()
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"carol.danvers@example.com": "car***@example.com",
		"al@example.com":            "al***@example.com",
		"not-an-email":              "***",
		"":                          "",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
