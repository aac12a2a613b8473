// Package loop owns the per-instance serial event queue.
//
// Ownership boundary:
// - every bus delivery and timer expiry is posted here
// - posted functions run one at a time, in post order, on one goroutine
// - nothing posted runs after Close
package loop
