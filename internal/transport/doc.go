// Package transport implements the process group over gRPC. Every worker
// serves a Mailbox service; sending to a rank is a unary Deliver call that
// returns once the message sits in the receiver's mailbox, and receiving is
// a local mailbox take.
package transport
