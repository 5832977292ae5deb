// Package codec converts band rows to and from the flat row-major cell
// sequences that travel between workers, and frames those sequences with a
// small fixed header for the network transport.
package codec
