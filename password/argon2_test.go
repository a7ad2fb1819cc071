package password

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail without error: ok=%v err=%v", ok, err)
	}
}

func TestHashSaltsEveryCall(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	a, _ := hasher.Hash("same-password")
	b, _ := hasher.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestHashUsesInjectedRandom(t *testing.T) {
	cfg := fastConfig()
	cfg.Random = bytes.NewReader(bytes.Repeat([]byte{7}, 64))
	a, _ := newHasher(t, cfg).Hash("deterministic")
	cfg.Random = bytes.NewReader(bytes.Repeat([]byte{7}, 64))
	b, _ := newHasher(t, cfg).Hash("deterministic")
	if a != b {
		t.Fatalf("identical salt source must give identical hashes:\n%s\n%s", a, b)
	}

	cfg.Random = bytes.NewReader([]byte{1, 2})
	if _, err := newHasher(t, cfg).Hash("x"); err == nil {
		t.Fatal("short random source must fail")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	old := newHasher(t, fastConfig())
	hash, err := old.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	needs, err := newHasher(t, stronger).NeedsUpgrade(hash)
	if err != nil || !needs {
		t.Fatalf("expected upgrade for weaker parameters: needs=%v err=%v", needs, err)
	}

	needs, err = old.NeedsUpgrade(hash)
	if err != nil || needs {
		t.Fatalf("expected no upgrade for current parameters: needs=%v err=%v", needs, err)
	}
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	good, _ := hasher.Hash("version-test")

	cases := map[string]struct {
		hash string
		want error
	}{
		"not phc":       {"not-a-phc-hash", ErrMalformedHash},
		"wrong version": {strings.Replace(good, "$v=19$", "$v=18$", 1), ErrUnsupportedHash},
		"wrong algo":    {strings.Replace(good, "$argon2id$", "$argon2i$", 1), ErrUnsupportedHash},
		"huge memory":   {strings.Replace(good, "m=8192", "m=99999999", 1), ErrMalformedHash},
		"missing param": {strings.Replace(good, ",p=1", "", 1), ErrMalformedHash},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := hasher.Verify("version-test", tc.hash); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyAcceptsPaddedBase64(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	hash, _ := hasher.Hash("padded-password")

	parts := strings.Split(hash, "$")
	for _, i := range []int{4, 5} {
		for len(parts[i])%4 != 0 {
			parts[i] += "="
		}
	}
	ok, err := hasher.Verify("padded-password", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("padded encoding must verify: ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = fastConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}
