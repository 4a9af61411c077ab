// Package loops rebuilds loop structure in graphs produced by merge-explode
// decoding.
//
// Merge-explode decoding replaces every loop header with a plain merge and
// coalesces iterations whose states are equal. The resulting graph has cycles
// through ordinary merges and no loop nodes. [Detect] finds those cycles and
// converts them back into LoopBegin, LoopEnd and LoopExit nodes, turning
// loops with more than one entry into a switch-based state machine on the
// outermost loop.
//
// The package only depends on the ir package. The decoder hands it the
// placeholder merges it created and the allocation mark taken when decoding
// of the method started.
package loops
