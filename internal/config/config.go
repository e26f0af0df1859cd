// Package config loads and hot-reloads the engine's YAML configuration:
// storage paths, per-stream recording parameters, and retention policy.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the engine's top-level configuration document.
type Config struct {
	Version   string          `yaml:"version"`
	System    SystemConfig    `yaml:"system"`
	Streams   []StreamConfig  `yaml:"streams"`
	Retention RetentionConfig `yaml:"retention"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	StoragePath  string        `yaml:"storage_path"`
	ManifestPath string        `yaml:"manifest_path"`
	CatalogPath  string        `yaml:"catalog_path"`
	Bus          BusConfig     `yaml:"bus"`
	Logging      LoggingConfig `yaml:"logging"`
}

// BusConfig holds the embedded message bus's bind settings.
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// StreamConfig is one configured stream's recording parameters.
type StreamConfig struct {
	Name             string `yaml:"name" json:"name"`
	URL              string `yaml:"url" json:"url"`
	Username         string `yaml:"username,omitempty" json:"username,omitempty"`
	Password         string `yaml:"password,omitempty" json:"password,omitempty"`
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	RecordingEnabled bool   `yaml:"recording_enabled" json:"recording_enabled"`
	SegmentSeconds   int    `yaml:"segment_seconds" json:"segment_seconds"`
	PreRollSeconds   int    `yaml:"pre_roll_seconds" json:"pre_roll_seconds"`
	PostRollSeconds  int    `yaml:"post_roll_seconds" json:"post_roll_seconds"`
	FPS              int    `yaml:"fps" json:"fps"`
	RecordAudio      bool   `yaml:"record_audio" json:"record_audio"`
	DetectionOnly    bool   `yaml:"detection_only" json:"detection_only"`
}

// RetentionConfig mirrors internal/retention.Policy in config-file form.
type RetentionConfig struct {
	DefaultDays      int `yaml:"default_days"`
	EventDays        int `yaml:"event_days"`
	MaxStorageGB     int `yaml:"max_storage_gb"`
	CleanupIntervalS int `yaml:"cleanup_interval_seconds"`
}

// Load reads and parses the YAML config file at path, decrypting stream
// passwords and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects a configuration that would let a worker run with
// nonsensical recording parameters — segment_seconds == 0 most notably,
// which would otherwise rotate on every frame.
func (c *Config) Validate() error {
	for _, sc := range c.Streams {
		if err := validateStream(sc); err != nil {
			return err
		}
	}
	return nil
}

func validateStream(sc StreamConfig) error {
	if sc.SegmentSeconds <= 0 {
		return fmt.Errorf("stream %s: segment_seconds must be positive", sc.Name)
	}
	return nil
}

// Save writes the configuration back to its file atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:   c.Version,
		System:    c.System,
		Streams:   append([]StreamConfig(nil), c.Streams...),
		Retention: c.Retention,
		path:      c.path,
		encKey:    c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# lightnvr engine configuration\n# auto-generated; manual edits are preserved on reload\n\n"
	data = append([]byte(header), data...)

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmpPath, c.path)
}

// Watch starts an fsnotify watcher on the config file, reloading and
// notifying registered callbacks on write events.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers fn to run after every successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Streams = newCfg.Streams
	c.Retention = newCfg.Retention
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded", "path", c.path)
	for _, fn := range watchers {
		fn(c)
	}
}

// GetStream returns a stream's configuration by name.
func (c *Config) GetStream(name string) *StreamConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Streams {
		if c.Streams[i].Name == name {
			return &c.Streams[i]
		}
	}
	return nil
}

// UpsertStream adds or replaces a stream's configuration and persists it.
func (c *Config) UpsertStream(sc StreamConfig) error {
	if err := validateStream(sc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Streams {
		if c.Streams[i].Name == sc.Name {
			c.Streams[i] = sc
			return c.saveUnlocked()
		}
	}
	c.Streams = append(c.Streams, sc)
	return c.saveUnlocked()
}

// RemoveStream deletes a stream's configuration by name and persists it.
func (c *Config) RemoveStream(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Streams {
		if c.Streams[i].Name == name {
			c.Streams = append(c.Streams[:i], c.Streams[i+1:]...)
			return c.saveUnlocked()
		}
	}
	return fmt.Errorf("stream not found: %s", name)
}

// Path returns the config file's path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.StoragePath == "" {
		c.System.StoragePath = "/data/segments"
	}
	if c.System.ManifestPath == "" {
		c.System.ManifestPath = "/data/manifests"
	}
	if c.System.CatalogPath == "" {
		c.System.CatalogPath = "/data/catalog.db"
	}
	if c.System.Bus.Host == "" {
		c.System.Bus.Host = "127.0.0.1"
	}
	if c.System.Bus.Port == 0 {
		c.System.Bus.Port = 4222
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.Retention.DefaultDays == 0 {
		c.Retention.DefaultDays = 30
	}
	if c.Retention.EventDays == 0 {
		c.Retention.EventDays = c.Retention.DefaultDays * 2
	}
	if c.Retention.CleanupIntervalS == 0 {
		c.Retention.CleanupIntervalS = 3600
	}
}

func (c *Config) encryptSecrets() error {
	for i := range c.Streams {
		if c.Streams[i].Password != "" && !strings.HasPrefix(c.Streams[i].Password, "encrypted:") {
			encrypted, err := encrypt(c.encKey, c.Streams[i].Password)
			if err != nil {
				return err
			}
			c.Streams[i].Password = "encrypted:" + encrypted
		}
	}
	return nil
}

func (c *Config) decryptSecrets() error {
	for i := range c.Streams {
		if strings.HasPrefix(c.Streams[i].Password, "encrypted:") {
			enc := strings.TrimPrefix(c.Streams[i].Password, "encrypted:")
			decrypted, err := decrypt(c.encKey, enc)
			if err != nil {
				return err
			}
			c.Streams[i].Password = decrypted
		}
	}
	return nil
}

func getEncryptionKey() []byte {
	keyStr := os.Getenv("NVRENGINE_ENCRYPTION_KEY")
	if keyStr != "" {
		key, err := base64.StdEncoding.DecodeString(keyStr)
		if err == nil && len(key) == 32 {
			return key
		}
	}
	return []byte("nvrengine-default-key-change-me!")
}

func encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(key []byte, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
