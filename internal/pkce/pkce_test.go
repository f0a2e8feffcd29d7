package pkce

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
)

func TestComputeS256Challenge(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := ComputeS256Challenge(verifier); got != want {
		t.Fatalf("ComputeS256Challenge() = %v, want %v", got, want)
	}
}

func TestComputeS256ChallengeIsDeterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	if ComputeS256Challenge(verifier) != ComputeS256Challenge(verifier) {
		t.Fatal("expected identical challenges for identical verifiers")
	}
}

func TestSingleCharacterMutationChangesChallenge(t *testing.T) {
	verifier, err := GenerateVerifier(64)
	if err != nil {
		t.Fatalf("generate verifier: %v", err)
	}
	original := ComputeS256Challenge(verifier)

	for i := 0; i < len(verifier); i++ {
		mutated := []byte(verifier)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if ComputeS256Challenge(string(mutated)) == original {
			t.Fatalf("mutation at index %d did not change the challenge", i)
		}
	}
}

func TestGenerateVerifierLengths(t *testing.T) {
	for _, length := range []int{43, 64, 128} {
		verifier, err := GenerateVerifier(length)
		if err != nil {
			t.Fatalf("generate verifier length %d: %v", length, err)
		}
		if len(verifier) != length {
			t.Fatalf("expected length %d, got %d", length, len(verifier))
		}
		if !ValidVerifier(verifier) {
			t.Fatalf("generated verifier has illegal characters: %q", verifier)
		}
	}
}

func TestGenerateVerifierRejectsOutOfRange(t *testing.T) {
	for _, length := range []int{0, 42, 129, -1} {
		_, err := GenerateVerifier(length)
		if err == nil {
			t.Fatalf("expected error for length %d", length)
		}
		if !errors.Is(err, apperrors.New(apperrors.CodeVerifierLengthOutOfRange, "")) {
			t.Fatalf("expected validation error code, got %v", err)
		}
	}
}

func TestGenerateVerifierPairwiseDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		verifier, err := GenerateVerifier(64)
		if err != nil {
			t.Fatalf("generate verifier: %v", err)
		}
		if seen[verifier] {
			t.Fatalf("duplicate verifier generated: %q", verifier)
		}
		seen[verifier] = true
	}
}

func TestGeneratePairDefaults(t *testing.T) {
	pair, err := GeneratePair(0)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	if len(pair.CodeVerifier) != DefaultVerifierLength {
		t.Fatalf("expected default length %d, got %d", DefaultVerifierLength, len(pair.CodeVerifier))
	}
	if pair.CodeChallenge != ComputeS256Challenge(pair.CodeVerifier) {
		t.Fatal("pair challenge does not match derived challenge")
	}
}

func TestVerifyS256(t *testing.T) {
	pair, err := GeneratePair(64)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}
	if !VerifyS256(pair.CodeVerifier, pair.CodeChallenge) {
		t.Fatal("expected verification to pass")
	}
	if VerifyS256(pair.CodeVerifier, "wrong-challenge") {
		t.Fatal("expected mismatched challenge to fail")
	}
	if VerifyS256("short", pair.CodeChallenge) {
		t.Fatal("expected invalid verifier to fail")
	}
}

func TestGenerateStateShape(t *testing.T) {
	state := GenerateState()
	if len(state) != 36 || strings.Count(state, "-") != 4 {
		t.Fatalf("expected v4 uuid shape, got %q", state)
	}
	if state == GenerateState() {
		t.Fatal("expected successive states to differ")
	}
}
