package jwt

import (
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	secretA = []byte("0123456789abcdef0123456789abcdef")
	secretB = []byte("fedcba9876543210fedcba9876543210")
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Minute
	}
	if cfg.Secret == nil {
		cfg.Secret = secretA
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func sign(t *testing.T, method gjwt.SigningMethod, key interface{}, claims gjwt.Claims, kid string) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestCreateAndParseCarriesSubjectUserIDAndRole(t *testing.T) {
	m := newTestManager(t, Config{Issuer: "teamguard"})

	token, err := m.CreateAccess("u-1", "admin")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "u-1" || claims.UserID != "u-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseAcceptsUserIDWithoutSub(t *testing.T) {
	m := newTestManager(t, Config{})
	token := sign(t, gjwt.SigningMethodHS256, secretA, AccessClaims{
		UserID: "u-2",
		RegisteredClaims: gjwt.RegisteredClaims{
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}, "")

	claims, err := m.ParseAccess(token)
	if err != nil || claims.Identity() != "u-2" {
		t.Fatalf("expected userId fallback, got %+v err=%v", claims, err)
	}
}

func TestParseRejectsMissingSubject(t *testing.T) {
	m := newTestManager(t, Config{})
	token := sign(t, gjwt.SigningMethodHS256, secretA, AccessClaims{
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))},
	}, "")
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrSubjectMissing) {
		t.Fatalf("expected ErrSubjectMissing, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithmAndSecret(t *testing.T) {
	m := newTestManager(t, Config{})
	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}

	hs512 := sign(t, gjwt.SigningMethodHS512, secretA, claims, "")
	if _, err := m.ParseAccess(hs512); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}
	otherSecret := sign(t, gjwt.SigningMethodHS256, secretB, claims, "")
	if _, err := m.ParseAccess(otherSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong secret to be rejected, got %v", err)
	}
	none := sign(t, gjwt.SigningMethodNone, gjwt.UnsafeAllowNoneSignatureType, claims, "")
	if _, err := m.ParseAccess(none); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func TestParseIssuerAudienceExpiryAndLeeway(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, Config{
		Issuer:   "teamguard",
		Audience: "api",
		Leeway:   30 * time.Second,
		Now:      func() time.Time { return now },
	})

	base := func(issuer, audience string, exp time.Time) AccessClaims {
		return AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    issuer,
			Audience:  gjwt.ClaimStrings{audience},
			ExpiresAt: gjwt.NewNumericDate(exp),
			IssuedAt:  gjwt.NewNumericDate(now.Add(-time.Minute)),
		}}
	}

	cases := []struct {
		name   string
		claims AccessClaims
		ok     bool
	}{
		{"valid", base("teamguard", "api", now.Add(time.Minute)), true},
		{"wrong issuer", base("other", "api", now.Add(time.Minute)), false},
		{"wrong audience", base("teamguard", "other-api", now.Add(time.Minute)), false},
		{"expired within leeway", base("teamguard", "api", now.Add(-15*time.Second)), true},
		{"expired", base("teamguard", "api", now.Add(-2*time.Minute)), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := sign(t, gjwt.SigningMethodHS256, secretA, tc.claims, "")
			_, err := m.ParseAccess(token)
			if tc.ok && err != nil {
				t.Fatalf("expected token to parse: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}
}

func TestParseRequiresExpiry(t *testing.T) {
	m := newTestManager(t, Config{})
	token := sign(t, gjwt.SigningMethodHS256, secretA, AccessClaims{
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "u"},
	}, "")
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseRejectsFutureIssuedAt(t *testing.T) {
	m := newTestManager(t, Config{MaxFutureIAT: time.Minute})
	token := sign(t, gjwt.SigningMethodHS256, secretA, AccessClaims{
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	}, "")
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected future iat to be rejected")
	}
}

func TestParseKeyRotationByKid(t *testing.T) {
	m := newTestManager(t, Config{
		Secret: secretB,
		KeyID:  "k2",
		VerifyKeys: map[string][]byte{
			"k1": secretA,
			"k2": secretB,
		},
	})
	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}

	old := sign(t, gjwt.SigningMethodHS256, secretA, claims, "k1")
	if _, err := m.ParseAccess(old); err != nil {
		t.Fatalf("token signed with the previous key must verify: %v", err)
	}
	unknown := sign(t, gjwt.SigningMethodHS256, secretA, claims, "k9")
	if _, err := m.ParseAccess(unknown); err == nil {
		t.Fatal("expected unknown kid failure")
	}
	missing := sign(t, gjwt.SigningMethodHS256, secretA, claims, "")
	if _, err := m.ParseAccess(missing); err == nil {
		t.Fatal("expected missing kid failure")
	}

	fresh, err := m.CreateAccess("u", "")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(fresh); err != nil {
		t.Fatalf("fresh token must verify under its kid: %v", err)
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, Secret: []byte("short")}); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, Secret: secretA, KeyID: "x", VerifyKeys: map[string][]byte{"y": secretB}}); err == nil {
		t.Fatal("expected KeyID missing from VerifyKeys to be rejected")
	}
}
