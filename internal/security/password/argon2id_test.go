package password

import (
	"strings"
	"testing"
)

// testParams keeps the key derivation cheap enough for the test suite.
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerifyRoundTrip(t *testing.T) {
	phc, err := Hash(testParams, "correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") {
		t.Fatalf("phc = %q", phc)
	}
	if !Verify("correct horse battery staple", phc) {
		t.Fatalf("own output does not verify: %q", phc)
	}
	if Verify("wrong password", phc) {
		t.Fatal("wrong password verified")
	}
	if Verify("", phc) {
		t.Fatal("empty password verified")
	}
}

func TestVerify_MalformedInput(t *testing.T) {
	for _, phc := range []string{
		"",
		"not-a-phc-string",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$AAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$!!!",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$AAAA$extra",
	} {
		if Verify("anything", phc) {
			t.Fatalf("malformed phc verified: %q", phc)
		}
	}
}

func TestRandomUnusable(t *testing.T) {
	phc, err := RandomUnusable(testParams)
	if err != nil {
		t.Fatalf("random unusable: %v", err)
	}
	for _, guess := range []string{"", "password", "admin"} {
		if Verify(guess, phc) {
			t.Fatalf("guess %q verified against an unusable hash", guess)
		}
	}

	other, err := RandomUnusable(testParams)
	if err != nil {
		t.Fatalf("second random unusable: %v", err)
	}
	if phc == other {
		t.Fatal("two unusable hashes are identical")
	}
}
