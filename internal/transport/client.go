package transport

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientManager manages gRPC connections to peer workers.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// GetConn returns the connection for addr, creating it on first use.
// Connecting is lazy; callers wait for readiness per call.
func (cm *ClientManager) GetConn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return conn, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", addr, err)
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
