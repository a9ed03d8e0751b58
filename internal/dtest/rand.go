package dtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"strconv"
	"testing"
)

// RandomItemsForTest returns n pseudorandom decimal strings,
// derived from a seed based on the test name,
// so that a failing sequence can be reproduced by rerunning the test.
func RandomItemsForTest(t *testing.T, n int) []string {
	// Sha256 happens to be the right size for the chacha8 seed,
	// and this fits well anyway since that means
	// we are not limited by the length of any particular test name.
	seed := sha256.Sum256([]byte(t.Name()))
	rng := rand.New(rand.NewChaCha8(seed))

	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(rng.IntN(1_000_000))
	}

	return out
}
