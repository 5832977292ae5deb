// Package group defines the process group the workers run in: a fixed set of
// ranks with FIFO point-to-point messaging. Scatter, Gather and the
// simultaneous pairwise Exchange are built once on top of Send and Recv so
// every transport gets them for free.
package group
