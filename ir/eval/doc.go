// Package eval interprets IR functions.
//
// The address space is split into regions: the null region, a stack for
// callee frames and allocas, and any number of regions mapped by the
// embedder (linear memory, the instance block, persistent frames). Host
// imports and intrinsics are supplied as Go functions.
//
// A fence hook can pause execution. The top-level frame then holds the
// state committed by the last checkpoint, and running the function again
// with that frame resumes there.
package eval
