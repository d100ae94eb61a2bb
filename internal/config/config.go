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

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Seen     SeenConfig     `json:"seen" yaml:"seen"`
	Sources  SourcesConfig  `json:"sources" yaml:"sources"`
	API      APIConfig      `json:"api" yaml:"api"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type HTTPConfig struct {
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
}

type PipelineConfig struct {
	ChannelBuffer int `json:"channel_buffer" yaml:"channel_buffer"`
	RecentLimit   int `json:"recent_limit" yaml:"recent_limit"`
	SubscriberBuf int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

type SeenConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Dir    string `json:"dir" yaml:"dir"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type SourcesConfig struct {
	CheckPoint StreamSourceConfig `json:"checkpoint" yaml:"checkpoint"`
	FortiGuard PollSourceConfig   `json:"fortiguard" yaml:"fortiguard"`
	FraudGuard PollSourceConfig   `json:"fraudguard" yaml:"fraudguard"`
	Radware    PollSourceConfig   `json:"radware" yaml:"radware"`
	Talos      PollSourceConfig   `json:"talos" yaml:"talos"`
	RSS        RSSConfig          `json:"rss" yaml:"rss"`
	Reputation ReputationConfig   `json:"reputation" yaml:"reputation"`
}

type PollSourceConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URL           string        `json:"url" yaml:"url"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	ErrorInterval time.Duration `json:"error_interval" yaml:"error_interval"`
	Backoff       time.Duration `json:"backoff" yaml:"backoff"`
	MaxBackoff    time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Tracker       string        `json:"tracker" yaml:"tracker"`
	MaxIdentities int           `json:"max_identities" yaml:"max_identities"`
}

type StreamSourceConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	URL            string        `json:"url" yaml:"url"`
	ReconnectDelay time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	FlushInterval  time.Duration `json:"flush_interval" yaml:"flush_interval"`
	IdleTimeout    time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Event          string        `json:"event" yaml:"event"`
	Tracker        string        `json:"tracker" yaml:"tracker"`
	MaxIdentities  int           `json:"max_identities" yaml:"max_identities"`
}

type RSSConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	ErrorInterval time.Duration `json:"error_interval" yaml:"error_interval"`
	Tracker       string        `json:"tracker" yaml:"tracker"`
	Feeds         []FeedConfig  `json:"feeds" yaml:"feeds"`
	Keywords      KeywordConfig `json:"keywords" yaml:"keywords"`
}

type FeedConfig struct {
	Name     string         `json:"name" yaml:"name"`
	URL      string         `json:"url" yaml:"url"`
	Keywords *KeywordConfig `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

type KeywordConfig struct {
	Primary   []string `json:"primary" yaml:"primary"`
	Secondary []string `json:"secondary" yaml:"secondary"`
	Exclude   []string `json:"exclude" yaml:"exclude"`
}

type ReputationConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Lists   []string      `json:"lists" yaml:"lists"`
	Refresh time.Duration `json:"refresh" yaml:"refresh"`
}

type APIConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Addr          string        `json:"addr" yaml:"addr"`
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

const (
	TrackerSet   = "set"
	TrackerTuple = "tuple"
	TrackerBatch = "batch"
	TrackerNone  = "none"
)

func DefaultKeywords() KeywordConfig {
	return KeywordConfig{
		Primary: []string{
			"ransomware", "malware", "exploit", "vulnerability", "breach",
			"zero-day", "attack", "compromised", "infected", "stolen",
			"hacked", "leak", "backdoor", "trojan", "rootkit", "spyware",
			"security", "cyber",
		},
		Secondary: []string{
			"cybercrime", "phishing", "ddos", "apt", "hacking", "credential",
			"cyberattack", "databreach", "hack", "payload", "threat", "botnet",
			"mitigation", "critical", "authentication", "attacker", "command and control",
			"lateral movement", "exfiltration", "intrusion", "security flaw",
		},
		Exclude: []string{
			"webinar", "workshop", "training", "course", "certification",
			"conference", "roundtable", "partner", "sponsored", "promotion",
			"discount", "offer", "register now", "sign up", "earn", "sale",
			"subscription", "tutorial", "guide", "how to", "introduction to",
		},
	}
}

func defaultPoll(url string, interval time.Duration, tracker string) PollSourceConfig {
	return PollSourceConfig{
		Enabled:       true,
		URL:           url,
		Interval:      interval,
		ErrorInterval: interval,
		Backoff:       interval,
		MaxBackoff:    600 * time.Second,
		Tracker:       tracker,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTP:     HTTPConfig{Timeout: 12 * time.Second, UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:138.0) Gecko/20100101 Firefox/138.0"},
		Pipeline: PipelineConfig{ChannelBuffer: 256, RecentLimit: 5000, SubscriberBuf: 64},
		Seen:     SeenConfig{Driver: "file", Dir: "data", DSN: "file:threatmap.db?_pragma=busy_timeout(5000)"},
		Sources: SourcesConfig{
			CheckPoint: StreamSourceConfig{
				Enabled:        true,
				URL:            "https://threatmap-api.checkpoint.com/ThreatMap/api/feed",
				ReconnectDelay: 5 * time.Second,
				FlushInterval:  time.Second,
				IdleTimeout:    60 * time.Second,
				Event:          "attack",
				Tracker:        TrackerTuple,
			},
			FortiGuard: defaultPoll("https://fortiguard.fortinet.com/api/threatmap/live/outbreak?outbreak_id=0", 5*time.Second, TrackerBatch),
			FraudGuard: defaultPoll("https://api.fraudguard.io/landing-page-map", 10*time.Second, TrackerBatch),
			Radware:    defaultPoll("https://ltm-prod-api.radware.com/map/attacks?limit=600", 60*time.Second, TrackerBatch),
			Talos:      defaultPoll("https://talosintelligence.com/cloud_intel/top_senders_list", 30*time.Second, TrackerBatch),
			RSS: RSSConfig{
				Enabled:       true,
				Interval:      5 * time.Minute,
				ErrorInterval: time.Minute,
				Tracker:       TrackerSet,
				Feeds: []FeedConfig{
					{Name: "hackernews", URL: "https://feeds.feedburner.com/TheHackersNews"},
					{Name: "darkreading", URL: "https://www.darkreading.com/rss.xml"},
					{Name: "420in", URL: "https://the420.in/feed"},
				},
				Keywords: DefaultKeywords(),
			},
			Reputation: ReputationConfig{
				Enabled: true,
				Lists: []string{
					"https://www.binarydefense.com/banlist.txt",
					"https://www.binarydefense.com/tor.txt",
					"https://reputation.alienvault.com/reputation.unix",
				},
			},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081", FrameInterval: time.Second},
		Kafka:   KafkaConfig{Enabled: false, Topic: "threatmap.batches"},
		Metrics: MetricsConfig{Enabled: true},
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
	// JSON is decoded by the YAML parser too so durations read as "30s" in both formats.
	if err := yaml.Unmarshal([]byte(trimmed), cfg); err != nil {
		if looksLikeJSON(trimmed) {
			return nil, fmt.Errorf("decode json config: %w", err)
		}
		return nil, err
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
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		var generic map[string]any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		if data, err = json.MarshalIndent(generic, "", "  "); err != nil {
			return err
		}
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
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = def.HTTP.Timeout
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = def.HTTP.UserAgent
	}
	if cfg.Pipeline.ChannelBuffer <= 0 {
		cfg.Pipeline.ChannelBuffer = def.Pipeline.ChannelBuffer
	}
	if cfg.Pipeline.RecentLimit <= 0 {
		cfg.Pipeline.RecentLimit = def.Pipeline.RecentLimit
	}
	if cfg.Pipeline.SubscriberBuf <= 0 {
		cfg.Pipeline.SubscriberBuf = def.Pipeline.SubscriberBuf
	}
	if cfg.Seen.Driver == "" {
		cfg.Seen.Driver = def.Seen.Driver
	}
	if cfg.Seen.Dir == "" {
		cfg.Seen.Dir = def.Seen.Dir
	}
	if cfg.API.FrameInterval <= 0 {
		cfg.API.FrameInterval = def.API.FrameInterval
	}

	cp := &cfg.Sources.CheckPoint
	if cp.ReconnectDelay <= 0 {
		cp.ReconnectDelay = def.Sources.CheckPoint.ReconnectDelay
	}
	if cp.IdleTimeout <= 0 {
		cp.IdleTimeout = def.Sources.CheckPoint.IdleTimeout
	}
	if cp.FlushInterval < 0 {
		cp.FlushInterval = 0
	}
	if cp.Tracker == "" {
		cp.Tracker = TrackerTuple
	}

	pollDefaults(&cfg.Sources.FortiGuard, def.Sources.FortiGuard)
	pollDefaults(&cfg.Sources.FraudGuard, def.Sources.FraudGuard)
	pollDefaults(&cfg.Sources.Radware, def.Sources.Radware)
	pollDefaults(&cfg.Sources.Talos, def.Sources.Talos)

	rss := &cfg.Sources.RSS
	if rss.Interval <= 0 {
		rss.Interval = def.Sources.RSS.Interval
	}
	if rss.ErrorInterval <= 0 {
		rss.ErrorInterval = def.Sources.RSS.ErrorInterval
	}
	if rss.Tracker == "" {
		rss.Tracker = TrackerSet
	}
	if len(rss.Keywords.Primary) == 0 {
		rss.Keywords.Primary = def.Sources.RSS.Keywords.Primary
	}
	if rss.Keywords.Secondary == nil {
		rss.Keywords.Secondary = def.Sources.RSS.Keywords.Secondary
	}
	if rss.Keywords.Exclude == nil {
		rss.Keywords.Exclude = def.Sources.RSS.Keywords.Exclude
	}
}

func pollDefaults(p *PollSourceConfig, def PollSourceConfig) {
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.ErrorInterval <= 0 {
		p.ErrorInterval = p.Interval
	}
	if p.Backoff <= 0 {
		p.Backoff = p.Interval
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	if p.Tracker == "" {
		p.Tracker = def.Tracker
	}
}

func validTracker(name string) bool {
	switch name {
	case TrackerSet, TrackerTuple, TrackerBatch, TrackerNone:
		return true
	}
	return false
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return errors.New("kafka requires brokers and topic")
	}
	switch cfg.Seen.Driver {
	case "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("seen.driver %q unsupported", cfg.Seen.Driver)
	}
	if cfg.Seen.Driver != "file" && cfg.Seen.DSN == "" {
		return fmt.Errorf("seen.dsn required for driver %s", cfg.Seen.Driver)
	}

	cp := cfg.Sources.CheckPoint
	if cp.Enabled && cp.URL == "" {
		return errors.New("sources.checkpoint.url required when enabled")
	}
	if !validTracker(cp.Tracker) {
		return fmt.Errorf("sources.checkpoint.tracker %q unsupported", cp.Tracker)
	}
	polls := map[string]PollSourceConfig{
		"fortiguard": cfg.Sources.FortiGuard,
		"fraudguard": cfg.Sources.FraudGuard,
		"radware":    cfg.Sources.Radware,
		"talos":      cfg.Sources.Talos,
	}
	for name, p := range polls {
		if p.Enabled && p.URL == "" {
			return fmt.Errorf("sources.%s.url required when enabled", name)
		}
		if !validTracker(p.Tracker) {
			return fmt.Errorf("sources.%s.tracker %q unsupported", name, p.Tracker)
		}
		if p.MaxIdentities < 0 {
			return fmt.Errorf("sources.%s.max_identities must be >= 0", name)
		}
	}

	rss := cfg.Sources.RSS
	if !validTracker(rss.Tracker) {
		return fmt.Errorf("sources.rss.tracker %q unsupported", rss.Tracker)
	}
	if rss.Enabled && len(rss.Feeds) == 0 {
		return errors.New("sources.rss.feeds required when enabled")
	}
	names := make(map[string]struct{}, len(rss.Feeds))
	for _, feed := range rss.Feeds {
		if feed.Name == "" || feed.URL == "" {
			return errors.New("sources.rss.feeds entries require name and url")
		}
		if _, dup := names[feed.Name]; dup {
			return fmt.Errorf("sources.rss.feeds duplicate name %q", feed.Name)
		}
		names[feed.Name] = struct{}{}
	}
	if cfg.Sources.Reputation.Enabled && len(cfg.Sources.Reputation.Lists) == 0 {
		return errors.New("sources.reputation.lists required when enabled")
	}
	return nil
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

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops without a path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
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
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
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
