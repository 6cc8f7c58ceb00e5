package vision

import "sync"

// sessionGuard serializes inference on a session with preallocated tensors.
// An AdvancedSession reuses one input buffer and one set of output buffers
// across calls, so a concurrent copy+Run+read would let one photo's pixels
// overwrite another's mid-inference. Detector and Embedder each hold their
// own guard; worker goroutines and search requests contend on it.
type sessionGuard struct {
	mu sync.Mutex
}

// infer runs fn with exclusive access to the session's tensors. fn must
// cover the full window: input copy, Run, and reading the outputs.
func (g *sessionGuard) infer(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
