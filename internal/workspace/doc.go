// Package workspace holds the shared analysis context filled by pipeline passes.
//
// A run creates one Context from the initial scan, hands each pass a Staged
// writer, and merges every successful pass's Delta back with Apply. Once the
// run completes the context is finalized and only read by renderers and the
// history store.
//
// Ownership is additive: a pass adds entries to the collections it is
// concerned with and never removes what other passes contributed.
// Collections are keyed by natural identity (repository name, env var name,
// question id, ...) and read back in key order, so the same set of
// additions always yields the same context regardless of merge order.
package workspace
