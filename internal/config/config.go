package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"killsense/internal/model"
	"killsense/internal/validate"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Results    ResultsConfig    `json:"results" yaml:"results"`
	Universe   UniverseConfig   `json:"universe" yaml:"universe"`
	Activity   ActivityConfig   `json:"activity" yaml:"activity"`
	Watchlists WatchlistsConfig `json:"watchlists" yaml:"watchlists"`
	Profiles   []model.Profile  `json:"profiles" yaml:"profiles"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Dedupe        DedupeConfig    `json:"dedupe" yaml:"dedupe"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

// DedupeConfig controls repeated kill suppression. With RedisAddr set the
// seen-set is shared between instances.
type DedupeConfig struct {
	Window      time.Duration `json:"window" yaml:"window"`
	RedisAddr   string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `json:"redis_prefix" yaml:"redis_prefix"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type PipelineConfig struct {
	// Prefetch runs the prefetch scorer on every event before the full
	// evaluation and records the decision alongside the result.
	Prefetch      bool          `json:"prefetch" yaml:"prefetch"`
	Workers       int           `json:"workers" yaml:"workers"`
	DeliveryQueue int           `json:"delivery_queue" yaml:"delivery_queue"`
	SaveTimeout   time.Duration `json:"save_timeout" yaml:"save_timeout"`
}

type APIConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Addr    string        `json:"addr" yaml:"addr"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Driver        string        `json:"driver" yaml:"driver"`
	DSN           string        `json:"dsn" yaml:"dsn"`
	Retention     time.Duration `json:"retention" yaml:"retention"`
	PruneSchedule string        `json:"prune_schedule" yaml:"prune_schedule"`
}

type MetricsConfig struct {
	Prometheus bool   `json:"prometheus" yaml:"prometheus"`
	Namespace  string `json:"namespace" yaml:"namespace"`
}

type ResultsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// UniverseConfig is the static map data used for security and jump
// distance lookups. TypeGroups maps ship type ids to group ids for
// killmails that only carry the type.
type UniverseConfig struct {
	Security   map[int64]float64 `json:"security" yaml:"security"`
	Gates      map[int64][]int64 `json:"gates" yaml:"gates"`
	MaxJumps   int               `json:"max_jumps" yaml:"max_jumps"`
	TypeGroups map[int64]int64   `json:"type_groups" yaml:"type_groups"`
}

type ActivityConfig struct {
	ShortWindow time.Duration `json:"short_window" yaml:"short_window"`
	LongWindow  time.Duration `json:"long_window" yaml:"long_window"`
}

type EntityList struct {
	Characters   []int64 `json:"characters" yaml:"characters"`
	Corporations []int64 `json:"corporations" yaml:"corporations"`
	Alliances    []int64 `json:"alliances" yaml:"alliances"`
}

type WatchlistsConfig struct {
	Groups     map[string]EntityList `json:"groups" yaml:"groups"`
	WarTargets EntityList            `json:"war_targets" yaml:"war_targets"`
	Standings  map[int64]float64     `json:"standings" yaml:"standings"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Dedupe:        DedupeConfig{Window: 10 * time.Minute, RedisPrefix: "killsense:seen:"},
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Pipeline: PipelineConfig{Prefetch: true, Workers: 2, DeliveryQueue: 1000, SaveTimeout: 5 * time.Second},
		API:      APIConfig{Enabled: true, Addr: ":8081", Timeout: 30 * time.Second},
		Storage: StorageConfig{
			Enabled:       false,
			Driver:        "sqlite",
			DSN:           "file:killsense.db?_pragma=busy_timeout(5000)",
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@every 1h",
		},
		Metrics:  MetricsConfig{Prometheus: true, Namespace: "killsense"},
		Results:  ResultsConfig{StoreLimit: 1000},
		Universe: UniverseConfig{MaxJumps: 10},
		Activity: ActivityConfig{ShortWindow: 10 * time.Minute, LongWindow: 24 * time.Hour},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes a JSON or YAML document over the defaults and validates it.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Results.StoreLimit <= 0 {
		cfg.Results.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Dedupe.RedisPrefix == "" {
		cfg.Ingest.Dedupe.RedisPrefix = "killsense:seen:"
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Pipeline.DeliveryQueue <= 0 {
		cfg.Pipeline.DeliveryQueue = 1000
	}
	if cfg.Pipeline.SaveTimeout <= 0 {
		cfg.Pipeline.SaveTimeout = 5 * time.Second
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Activity.ShortWindow <= 0 {
		cfg.Activity.ShortWindow = 10 * time.Minute
	}
	if cfg.Activity.LongWindow <= 0 {
		cfg.Activity.LongWindow = 24 * time.Hour
	}
	if cfg.Universe.MaxJumps <= 0 {
		cfg.Universe.MaxJumps = 10
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "killsense"
	}
	if cfg.Storage.PruneSchedule == "" {
		cfg.Storage.PruneSchedule = "@every 1h"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.Dedupe.Window < 0 {
		return errors.New("ingest.dedupe.window must be >= 0")
	}
	if cfg.Activity.LongWindow < cfg.Activity.ShortWindow {
		return errors.New("activity.long_window must not be shorter than activity.short_window")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	if len(cfg.Profiles) == 0 {
		return errors.New("at least one profile is required")
	}
	return validate.Err(validate.Profiles(cfg.Profiles, nil))
}

type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStatic wraps an already loaded config; Reload and Watch are no-ops.
func NewStatic(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.mu.Lock()
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// Watch reloads the config when its file changes until ctx is done. It
// uses filesystem notifications and falls back to polling the modification
// time every interval when a watcher cannot be set up.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if m.path == "" {
		<-ctx.Done()
		return
	}
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		report(fmt.Errorf("config watcher: %w", err))
		m.poll(ctx, interval, onReload, onError)
		return
	}
	defer w.Close()
	// Editors often replace the file, so the directory is watched.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		report(fmt.Errorf("config watcher: %w", err))
		m.poll(ctx, interval, onReload, onError)
		return
	}
	target := filepath.Clean(m.path)
	var settle <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			settle = time.After(100 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			report(err)
		case <-settle:
			settle = nil
			m.reloadInto(onReload, onError)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) poll(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if needs {
				m.reloadInto(onReload, onError)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reloadInto(onReload func(*Config), onError func(error)) {
	cfg, err := m.Reload()
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onReload != nil {
		onReload(cfg)
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
