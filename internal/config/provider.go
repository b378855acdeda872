package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"pumpsniper/internal/domain"
)

// Snapshot is the configuration in force for one event.
type Snapshot struct {
	Trade          domain.TradeConfig
	ProgramID      string
	Commitment     string
	Executor       Executor
	Monitor        Monitor
	AllowList      []string
	AllowListSetBy string // "file" or "redis"
}

// Allowed reports whether mint passes the allow-list. An empty list accepts every mint.
func (s Snapshot) Allowed(mint string) bool {
	if len(s.AllowList) == 0 {
		return true
	}
	for _, m := range s.AllowList {
		if m == mint {
			return true
		}
	}
	return false
}

// Provider yields a fresh Snapshot on each call.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// AllowListSource is an external allow-list that overrides the file one.
type AllowListSource interface {
	Members(ctx context.Context) ([]string, error)
}

// FileProviderOptions configures FileProvider.
type FileProviderOptions struct {
	Path      string
	AllowList AllowListSource             // optional; wins over Config.Contracts
	LookupEnv func(string) (string, bool) // default: os.LookupEnv
}

// FileProvider re-reads the config file on every Snapshot so edits take
// effect on the next event. Writes through Update are serialized.
type FileProvider struct {
	mu        sync.Mutex
	path      string
	allowList AllowListSource
	lookupEnv func(string) (string, bool)
}

// Compile-time interface check.
var _ Provider = (*FileProvider)(nil)

// NewFileProvider creates a FileProvider.
func NewFileProvider(opts FileProviderOptions) *FileProvider {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	return &FileProvider{
		path:      opts.Path,
		allowList: opts.AllowList,
		lookupEnv: opts.LookupEnv,
	}
}

// Path returns the backing file path.
func (p *FileProvider) Path() string { return p.path }

// Load returns the file configuration without environment overrides.
func (p *FileProvider) Load() (*Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Load(p.path)
}

// Update applies fn to the current file configuration and saves the result.
func (p *FileProvider) Update(fn func(*Config) error) (*Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := Load(p.path)
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := Save(p.path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Snapshot loads the file, applies environment overrides and merges the external allow-list.
func (p *FileProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	cfg, err := p.Load()
	if err != nil {
		return Snapshot{}, err
	}
	if err := ApplyEnv(cfg, p.lookupEnv); err != nil {
		return Snapshot{}, err
	}

	snap := SnapshotOf(cfg)
	if p.allowList != nil {
		members, err := p.allowList.Members(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("load allow-list: %w", err)
		}
		snap.AllowList = members
		snap.AllowListSetBy = "redis"
	}
	return snap, nil
}

// SnapshotOf builds a Snapshot from cfg using its file allow-list.
func SnapshotOf(cfg *Config) Snapshot {
	allow := make([]string, len(cfg.Contracts))
	copy(allow, cfg.Contracts)
	return Snapshot{
		Trade:          cfg.TradeConfig(),
		ProgramID:      cfg.RPC.ProgramID,
		Commitment:     cfg.RPC.Commitment,
		Executor:       cfg.Executor,
		Monitor:        cfg.Monitor,
		AllowList:      allow,
		AllowListSetBy: "file",
	}
}

// StaticProvider always returns the same snapshot.
type StaticProvider struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Compile-time interface check.
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider returning snap.
func NewStaticProvider(snap Snapshot) *StaticProvider {
	return &StaticProvider{snap: snap}
}

// Snapshot returns the stored snapshot.
func (p *StaticProvider) Snapshot(_ context.Context) (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, nil
}

// Set replaces the stored snapshot.
func (p *StaticProvider) Set(snap Snapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}
