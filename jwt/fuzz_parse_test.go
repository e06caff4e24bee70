package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzParse feeds arbitrary strings to both parsers. Neither may panic, and a
// nil error must always come with claims.
func FuzzParse(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
		RequireIAT:    true,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	access, _, err := mgr.CreateAccess("uid1", "fuzzer")
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, err := mgr.CreateRefresh("uid1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(access)
	f.Add(refresh)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		if claims, err := mgr.ParseAccess(input); err == nil && claims == nil {
			t.Fatal("ParseAccess returned nil claims without error")
		}
		if claims, err := mgr.ParseRefresh(input); err == nil && claims == nil {
			t.Fatal("ParseRefresh returned nil claims without error")
		}
	})
}
