// Package mailbox provides the receive side of the point-to-point layer: an
// in-memory FIFO per (source rank, tag) channel that transports deliver into
// and workers take from.
package mailbox
