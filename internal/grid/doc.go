// Package grid holds the cell buffers of the simulation: the global grid that
// only the coordinating rank materialises, and the per-worker band with its
// two halo rows. It also implements the neighbour count and the
// birth/survival rule applied to a band each step.
package grid
