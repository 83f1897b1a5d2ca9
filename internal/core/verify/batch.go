package verify

import (
	"sync"

	"github.com/permamesh/permamesh-go/internal/core/domain"
)

// BatchResult carries the outcome for one token in a batch, keyed back
// to the caller's slice by Index.
type BatchResult struct {
	Index   int
	Payload *domain.TokenPayload
	Err     error
}

// VerifyBatch verifies tokens concurrently. Each token succeeds or
// fails on its own; one bad token never poisons the rest. Results are
// returned in input order.
//
// Replay semantics are identical to calling VerifyToken per element:
// the same jti appearing twice in one batch consumes its single use on
// whichever goroutine wins and rejects the other.
func (v *Verifier) VerifyBatch(tokens []string) []BatchResult {
	results := make([]BatchResult, len(tokens))

	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			payload, err := v.VerifyToken(tok)
			results[i] = BatchResult{Index: i, Payload: payload, Err: err}
		}(i, tok)
	}
	wg.Wait()

	return results
}
