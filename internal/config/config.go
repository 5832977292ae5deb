package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lifeband/internal/mailbox"
	"lifeband/internal/partition"
)

const (
	DefaultRows        = 10
	DefaultCols        = 10
	DefaultSteps       = 10
	DefaultDensity     = 0.5
	DefaultDialTimeout = 5 * time.Second
)

// Peer represents a worker in the run. ID is the worker's rank.
type Peer struct {
	ID   string
	Addr string
}

// Config holds the run parameters of one worker (or of a local run).
type Config struct {
	Rows  int
	Cols  int
	Steps int

	// Size is the worker count. With Workers set it must match their number.
	Size int
	Rank int

	// Workers lists gRPC addresses indexed by rank.
	Workers []string

	// Seed drives random seeding at the root; 0 picks one from the clock.
	Seed    int64
	Density float64
	// Pattern, when set, is a text grid loaded instead of random seeding.
	Pattern string

	MailboxDepth int
	DialTimeout  time.Duration
	MetricsAddr  string
}

// Default returns the built-in parameters: a 10x10 grid for 10 steps.
func Default() Config {
	return Config{
		Rows:         DefaultRows,
		Cols:         DefaultCols,
		Steps:        DefaultSteps,
		Size:         1,
		Density:      DefaultDensity,
		MailboxDepth: mailbox.DefaultDepth,
		DialTimeout:  DefaultDialTimeout,
	}
}

type fileConfig struct {
	Rows         int      `toml:"rows"`
	Cols         int      `toml:"cols"`
	Steps        int      `toml:"steps"`
	Seed         int64    `toml:"seed"`
	Density      float64  `toml:"density"`
	Pattern      string   `toml:"pattern"`
	MailboxDepth int      `toml:"mailbox_depth"`
	DialTimeout  string   `toml:"dial_timeout"`
	MetricsAddr  string   `toml:"metrics_addr"`
	Workers      []string `toml:"workers"`
}

// LoadFile overlays the keys present in a TOML file onto cfg.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("rows") {
		cfg.Rows = raw.Rows
	}
	if meta.IsDefined("cols") {
		cfg.Cols = raw.Cols
	}
	if meta.IsDefined("steps") {
		cfg.Steps = raw.Steps
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("density") {
		cfg.Density = raw.Density
	}
	if meta.IsDefined("pattern") {
		cfg.Pattern = strings.TrimSpace(raw.Pattern)
	}
	if meta.IsDefined("mailbox_depth") {
		cfg.MailboxDepth = raw.MailboxDepth
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = normalizeAddrs(raw.Workers)
		cfg.Size = len(cfg.Workers)
	}
	return nil
}

func normalizeAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, addr := range in {
		if v := strings.TrimSpace(addr); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParsePeers parses a comma-separated list of peers in the format:
// "0=addr0,1=addr1,2=addr2"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected rank=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer rank and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// WorkerAddrs orders peers by rank. Ranks must be exactly 0..len(peers)-1.
func WorkerAddrs(peers []Peer) ([]string, error) {
	byRank := make(map[int]string, len(peers))
	ranks := make([]int, 0, len(peers))
	for _, p := range peers {
		rank, err := strconv.Atoi(p.ID)
		if err != nil {
			return nil, fmt.Errorf("peer id %q is not a rank", p.ID)
		}
		if _, dup := byRank[rank]; dup {
			return nil, fmt.Errorf("rank %d listed twice", rank)
		}
		byRank[rank] = p.Addr
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	addrs := make([]string, len(ranks))
	for i, rank := range ranks {
		if rank != i {
			return nil, fmt.Errorf("ranks must be 0..%d, missing %d", len(ranks)-1, i)
		}
		addrs[i] = byRank[rank]
	}
	return addrs, nil
}

// Params returns the values every rank must agree on.
func (c Config) Params() partition.Params {
	return partition.Params{Rows: c.Rows, Cols: c.Cols, Steps: c.Steps}
}

// ListenAddr is this rank's own entry in Workers.
func (c Config) ListenAddr() string {
	if c.Rank < 0 || c.Rank >= len(c.Workers) {
		return ""
	}
	return c.Workers[c.Rank]
}

// Validate checks the run before any communication. Decomposition problems
// are reported as *partition.ConfigError.
func (c Config) Validate() error {
	if c.Steps < 0 {
		return &partition.ConfigError{Reason: fmt.Sprintf("steps must not be negative, got %d", c.Steps)}
	}
	if len(c.Workers) > 0 && len(c.Workers) != c.Size {
		return &partition.ConfigError{Reason: fmt.Sprintf("size %d does not match %d worker addresses", c.Size, len(c.Workers))}
	}
	if _, err := partition.NewTopology(c.Rows, c.Cols, c.Size, c.Rank); err != nil {
		return err
	}
	if c.Density < 0 || c.Density > 1 {
		return fmt.Errorf("density %v outside [0,1]", c.Density)
	}
	if c.MailboxDepth < 0 {
		return fmt.Errorf("mailbox depth must not be negative, got %d", c.MailboxDepth)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}
	return nil
}
