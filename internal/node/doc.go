// Package node runs one worker process: it serves the gRPC mailbox and
// health services, waits for the rest of the group, and drives the
// partition coordinator for its rank.
package node
