//go:build !real_waku

package wakusync

// The real backend only exists behind the real_waku build tag; default
// builds run the in-process bus.
func newGoWakuBackend() wakuBackend { return nil }
