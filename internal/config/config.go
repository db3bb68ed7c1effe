package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModePerformance = "performance"
	ModeAccuracy    = "accuracy"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Mode        string            `json:"mode" yaml:"mode"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Memory      MemoryConfig      `json:"memory" yaml:"memory"`
	ResultCache ResultCacheConfig `json:"result_cache" yaml:"result_cache"`
	Policy      PolicyConfig      `json:"policy" yaml:"policy"`
	Scheduler   SchedulerConfig   `json:"scheduler" yaml:"scheduler"`
	Pool        PoolConfig        `json:"pool" yaml:"pool"`
	Perf        PerfConfig        `json:"perf" yaml:"perf"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
}

func (c *Config) PerformanceMode() bool {
	return !strings.EqualFold(c.Mode, ModeAccuracy)
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Syslog        SyslogConfig    `json:"syslog" yaml:"syslog"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
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

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultLocation string `json:"default_location" yaml:"default_location"`
}

type MemoryConfig struct {
	MaxEvents          int           `json:"max_events" yaml:"max_events"`
	SpatialBuckets     int           `json:"spatial_buckets" yaml:"spatial_buckets"`
	TemporalBuckets    int           `json:"temporal_buckets" yaml:"temporal_buckets"`
	EntityBuckets      int           `json:"entity_buckets" yaml:"entity_buckets"`
	PatternBuckets     int           `json:"pattern_buckets" yaml:"pattern_buckets"`
	EventsPerLocation  int           `json:"events_per_location" yaml:"events_per_location"`
	EventsPerWindow    int           `json:"events_per_window" yaml:"events_per_window"`
	EventsPerEntity    int           `json:"events_per_entity" yaml:"events_per_entity"`
	TemporalWindow     time.Duration `json:"temporal_window" yaml:"temporal_window"`
	Retention          time.Duration `json:"retention" yaml:"retention"`
	CleanupProbability float64       `json:"cleanup_probability" yaml:"cleanup_probability"`
}

type ResultCacheConfig struct {
	Capacity         int           `json:"capacity" yaml:"capacity"`
	AccuracyCapacity int           `json:"accuracy_capacity" yaml:"accuracy_capacity"`
	TTL              time.Duration `json:"ttl" yaml:"ttl"`
}

type PolicyConfig struct {
	// Cutpoints are four ascending values in [0,1]. The first, third and
	// fourth bind the info/standard, standard/elevated and
	// elevated/critical boundaries; the second is validated for order but
	// falls inside the standard band.
	Cutpoints            []float64     `json:"cutpoints" yaml:"cutpoints"`
	AuthorizedDownweight float64       `json:"authorized_downweight" yaml:"authorized_downweight"`
	AuthorizedCap        float64       `json:"authorized_cap" yaml:"authorized_cap"`
	PatternDamping       float64       `json:"pattern_damping" yaml:"pattern_damping"`
	NightBoost           float64       `json:"night_boost" yaml:"night_boost"`
	NightMinLevel        string        `json:"night_min_level" yaml:"night_min_level"`
	KnownActivity        string        `json:"known_activity" yaml:"known_activity"`
	ConfidenceThreshold  float64       `json:"confidence_threshold" yaml:"confidence_threshold"`
	Backoff              time.Duration `json:"backoff" yaml:"backoff"`
	BackoffEntries       int           `json:"backoff_entries" yaml:"backoff_entries"`
	UnusualTimeTag       string        `json:"unusual_time_tag" yaml:"unusual_time_tag"`
	EntryLocationTerms   []string      `json:"entry_location_terms" yaml:"entry_location_terms"`
}

type SchedulerConfig struct {
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	IdleInterval time.Duration `json:"idle_interval" yaml:"idle_interval"`
}

type PoolConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	MaxSize int  `json:"max_size" yaml:"max_size"`
}

type PerfConfig struct {
	EMAAlpha       float64       `json:"ema_alpha" yaml:"ema_alpha"`
	WindowSize     int           `json:"window_size" yaml:"window_size"`
	ContextTimeout time.Duration `json:"context_timeout" yaml:"context_timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Mode:     ModePerformance,
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultLocation: "unknown"},
		},
		Memory: MemoryConfig{
			MaxEvents:          500,
			SpatialBuckets:     200,
			TemporalBuckets:    100,
			EntityBuckets:      150,
			PatternBuckets:     300,
			EventsPerLocation:  100,
			EventsPerWindow:    50,
			EventsPerEntity:    20,
			TemporalWindow:     5 * time.Minute,
			Retention:          time.Hour,
			CleanupProbability: 0.1,
		},
		ResultCache: ResultCacheConfig{
			Capacity:         1000,
			AccuracyCapacity: 5000,
			TTL:              30 * time.Second,
		},
		Policy: PolicyConfig{
			Cutpoints:            []float64{0.15, 0.30, 0.55, 0.80},
			AuthorizedDownweight: 0.5,
			AuthorizedCap:        0.3,
			PatternDamping:       0.1,
			NightBoost:           0.25,
			NightMinLevel:        "standard",
			KnownActivity:        "ignore",
			ConfidenceThreshold:  0.7,
			Backoff:              60 * time.Second,
			BackoffEntries:       4096,
			UnusualTimeTag:       "unusual_time",
			EntryLocationTerms:   []string{"door", "window"},
		},
		Scheduler: SchedulerConfig{BatchSize: 5, IdleInterval: 10 * time.Millisecond},
		Pool:      PoolConfig{Enabled: true, MaxSize: 256},
		Perf:      PerfConfig{EMAAlpha: 0.2, WindowSize: 128, ContextTimeout: 100 * time.Millisecond},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:edgesentry.db?_pragma=busy_timeout(5000)"},
		Alerts:    AlertsConfig{StoreLimit: 1000},
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
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
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
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = def.Ingest.Parser.Timezone
	}
	if cfg.Ingest.Parser.DefaultLocation == "" {
		cfg.Ingest.Parser.DefaultLocation = def.Ingest.Parser.DefaultLocation
	}
	m := &cfg.Memory
	dm := def.Memory
	if m.MaxEvents <= 0 {
		m.MaxEvents = dm.MaxEvents
	}
	if m.SpatialBuckets <= 0 {
		m.SpatialBuckets = dm.SpatialBuckets
	}
	if m.TemporalBuckets <= 0 {
		m.TemporalBuckets = dm.TemporalBuckets
	}
	if m.EntityBuckets <= 0 {
		m.EntityBuckets = dm.EntityBuckets
	}
	if m.PatternBuckets <= 0 {
		m.PatternBuckets = dm.PatternBuckets
	}
	if m.EventsPerLocation <= 0 {
		m.EventsPerLocation = dm.EventsPerLocation
	}
	if m.EventsPerWindow <= 0 {
		m.EventsPerWindow = dm.EventsPerWindow
	}
	if m.EventsPerEntity <= 0 {
		m.EventsPerEntity = dm.EventsPerEntity
	}
	if m.TemporalWindow <= 0 {
		m.TemporalWindow = dm.TemporalWindow
	}
	if m.Retention <= 0 {
		m.Retention = dm.Retention
	}
	if m.CleanupProbability <= 0 {
		m.CleanupProbability = dm.CleanupProbability
	}
	if cfg.ResultCache.Capacity <= 0 {
		cfg.ResultCache.Capacity = def.ResultCache.Capacity
	}
	if cfg.ResultCache.AccuracyCapacity <= 0 {
		cfg.ResultCache.AccuracyCapacity = def.ResultCache.AccuracyCapacity
	}
	if cfg.ResultCache.TTL <= 0 {
		cfg.ResultCache.TTL = def.ResultCache.TTL
	}
	p := &cfg.Policy
	dp := def.Policy
	if len(p.Cutpoints) != 4 {
		p.Cutpoints = dp.Cutpoints
	}
	if p.AuthorizedDownweight <= 0 {
		p.AuthorizedDownweight = dp.AuthorizedDownweight
	}
	if p.AuthorizedCap <= 0 {
		p.AuthorizedCap = dp.AuthorizedCap
	}
	if p.PatternDamping <= 0 {
		p.PatternDamping = dp.PatternDamping
	}
	if p.NightBoost <= 0 {
		p.NightBoost = dp.NightBoost
	}
	if p.NightMinLevel == "" {
		p.NightMinLevel = dp.NightMinLevel
	}
	if p.KnownActivity == "" {
		p.KnownActivity = dp.KnownActivity
	}
	if p.ConfidenceThreshold <= 0 {
		p.ConfidenceThreshold = dp.ConfidenceThreshold
	}
	if p.Backoff <= 0 {
		p.Backoff = dp.Backoff
	}
	if p.BackoffEntries <= 0 {
		p.BackoffEntries = dp.BackoffEntries
	}
	if p.UnusualTimeTag == "" {
		p.UnusualTimeTag = dp.UnusualTimeTag
	}
	if len(p.EntryLocationTerms) == 0 {
		p.EntryLocationTerms = dp.EntryLocationTerms
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = def.Scheduler.BatchSize
	}
	if cfg.Scheduler.IdleInterval <= 0 {
		cfg.Scheduler.IdleInterval = def.Scheduler.IdleInterval
	}
	if cfg.Pool.MaxSize <= 0 {
		cfg.Pool.MaxSize = def.Pool.MaxSize
	}
	if cfg.Perf.EMAAlpha <= 0 || cfg.Perf.EMAAlpha > 1 {
		cfg.Perf.EMAAlpha = def.Perf.EMAAlpha
	}
	if cfg.Perf.WindowSize <= 0 {
		cfg.Perf.WindowSize = def.Perf.WindowSize
	}
	if cfg.Perf.ContextTimeout <= 0 {
		cfg.Perf.ContextTimeout = def.Perf.ContextTimeout
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Mode) {
	case ModePerformance, ModeAccuracy:
	default:
		return fmt.Errorf("mode must be %q or %q", ModePerformance, ModeAccuracy)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
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
	if len(cfg.Policy.Cutpoints) != 4 {
		return errors.New("policy.cutpoints must contain exactly four values")
	}
	prev := 0.0
	for i, c := range cfg.Policy.Cutpoints {
		if c < 0 || c > 1 {
			return fmt.Errorf("policy.cutpoints[%d] outside [0,1]: %v", i, c)
		}
		if c < prev {
			return errors.New("policy.cutpoints must be ascending")
		}
		prev = c
	}
	switch strings.ToLower(cfg.Policy.KnownActivity) {
	case "ignore", "silent", "low":
	default:
		return errors.New(`policy.known_activity must be "ignore", "silent" or "low"`)
	}
	switch strings.ToLower(cfg.Policy.NightMinLevel) {
	case "info", "standard", "elevated", "critical":
	default:
		return errors.New("policy.night_min_level must name an alert level")
	}
	if cfg.Policy.ConfidenceThreshold < 0 || cfg.Policy.ConfidenceThreshold > 1 {
		return errors.New("policy.confidence_threshold outside [0,1]")
	}
	return nil
}

// CutpointsArray returns the four policy cutpoints as a fixed-size array.
func (p PolicyConfig) CutpointsArray() [4]float64 {
	var out [4]float64
	copy(out[:], p.Cutpoints)
	return out
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
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
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
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
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
