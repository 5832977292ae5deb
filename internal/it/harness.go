// Package it spawns real lifeband worker processes for end-to-end tests.
package it

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Cluster represents one multi-process run
type Cluster struct {
	workers    []*Worker
	logDir     string
	binaryPath string
	mu         sync.Mutex
}

// Worker represents a single worker process of the run
type Worker struct {
	Rank    int
	Addr    string
	cmd     *exec.Cmd
	logFile *os.File
	stdout  bytes.Buffer
}

// RunConfig describes the run every worker is started with
type RunConfig struct {
	Workers int
	Rows    int
	Cols    int
	Steps   int
	Seed    int64
	Pattern string
}

// NewCluster creates a new test cluster harness
func NewCluster(binaryPath string) (*Cluster, error) {
	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Cluster{
		workers:    make([]*Worker, 0),
		logDir:     logDir,
		binaryPath: binaryPath,
	}, nil
}

// freeAddrs reserves n loopback ports by listening and releasing them
func freeAddrs(n int) ([]string, error) {
	addrs := make([]string, n)
	for i := range addrs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to reserve port: %w", err)
		}
		addrs[i] = lis.Addr().String()
		lis.Close()
	}
	return addrs, nil
}

// Start launches one process per rank
func (c *Cluster) Start(ctx context.Context, run RunConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs, err := freeAddrs(run.Workers)
	if err != nil {
		return err
	}
	peers := make([]string, len(addrs))
	for i, addr := range addrs {
		peers[i] = fmt.Sprintf("%d=%s", i, addr)
	}
	peerStr := strings.Join(peers, ",")

	for rank, addr := range addrs {
		logPath := filepath.Join(c.logDir, fmt.Sprintf("rank%d.log", rank))
		logFile, err := os.Create(logPath)
		if err != nil {
			c.stopLocked()
			return fmt.Errorf("failed to create log file: %w", err)
		}

		args := []string{"worker",
			"--rank", fmt.Sprintf("%d", rank),
			"--peers", peerStr,
			"--rows", fmt.Sprintf("%d", run.Rows),
			"--cols", fmt.Sprintf("%d", run.Cols),
			"--steps", fmt.Sprintf("%d", run.Steps),
			"--seed", fmt.Sprintf("%d", run.Seed),
		}
		if run.Pattern != "" {
			args = append(args, "--pattern", run.Pattern)
		}

		w := &Worker{Rank: rank, Addr: addr, logFile: logFile}
		cmd := exec.CommandContext(ctx, c.binaryPath, args...)
		cmd.Stdout = &w.stdout
		cmd.Stderr = logFile
		cmd.Env = append(os.Environ(), "LIFEBAND_LOG_NOCOLOR=true", "LIFEBAND_LOG_LEVEL=debug")
		w.cmd = cmd

		if err := cmd.Start(); err != nil {
			logFile.Close()
			c.stopLocked()
			return fmt.Errorf("failed to start rank %d: %w", rank, err)
		}
		c.workers = append(c.workers, w)
	}
	return nil
}

// Wait waits for every worker to exit and returns the root's stdout
func (c *Cluster) Wait() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, w := range c.workers {
		if err := w.cmd.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rank %d exited: %w (log %s)", w.Rank, err, w.logFile.Name())
		}
		w.logFile.Close()
	}
	if len(c.workers) == 0 {
		return "", fmt.Errorf("no workers started")
	}
	return c.workers[0].stdout.String(), firstErr
}

// WaitForLog polls rank's log file until it contains substr.
func (c *Cluster) WaitForLog(ctx context.Context, rank int, substr string) error {
	c.mu.Lock()
	var path string
	for _, w := range c.workers {
		if w.Rank == rank {
			path = w.logFile.Name()
		}
	}
	c.mu.Unlock()
	if path == "" {
		return fmt.Errorf("rank %d not found", rank)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.Contains(string(data), substr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rank %d never logged %q: %w", rank, substr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// KillWorker kills a specific rank
func (c *Cluster) KillWorker(rank int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range c.workers {
		if w.Rank == rank {
			if w.cmd != nil && w.cmd.Process != nil {
				if err := w.cmd.Process.Kill(); err != nil {
					return fmt.Errorf("failed to kill rank %d: %w", rank, err)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("rank %d not found", rank)
}

// Stop kills any worker still running
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Cluster) stopLocked() {
	for _, w := range c.workers {
		if w.cmd != nil && w.cmd.Process != nil && w.cmd.ProcessState == nil {
			w.cmd.Process.Kill()
			w.cmd.Wait()
		}
		if w.logFile != nil {
			w.logFile.Close()
		}
	}
	c.workers = nil
}
