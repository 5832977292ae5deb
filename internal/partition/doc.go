// Package partition decomposes the grid into contiguous row bands, one per
// rank, and drives a worker through a run: scatter of the initial grid from
// the root, a lock-step loop of halo exchange, step and swap, and a final
// gather back to the root.
package partition
