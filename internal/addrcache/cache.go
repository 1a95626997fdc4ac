package addrcache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// filePermissions is the permission mode for the persisted cache file.
const filePermissions = 0600

// Config contains address cache settings.
type Config struct {
	// Path is the YAML file the MAC→IP mapping is persisted to.
	Path string

	// ScanScript is the external executable invoked by Refresh.
	// Its stdout must be a YAML mapping of ip: mac. Empty disables refresh.
	ScanScript string

	// ScanTimeout bounds a single scan invocation.
	ScanTimeout time.Duration

	// IPPrefix expands purely numeric cached values: "47" resolves to
	// "<IPPrefix>.47". This mirrors the site convention of recording only
	// the last octet for statically addressed devices.
	IPPrefix string
}

// Logger defines the logging interface for the cache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Cache owns the MAC→IP mapping used to locate devices on the network.
//
// Keys are lowercase MAC strings. Refresh is additive: a scan failure never
// erases previously known addresses, and a successful scan merges into the
// existing mapping rather than replacing it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Cache struct {
	cfg    Config
	logger Logger

	mu    sync.RWMutex
	addrs map[string]string
}

// New creates an empty Cache. Call Load before first use.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:    cfg,
		logger: noopLogger{},
		addrs:  make(map[string]string),
	}
}

// SetLogger sets a logger for cache activity.
func (c *Cache) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Load reads the persisted mapping from the cache file.
//
// A missing file is not an error; the cache simply starts empty. A file
// that exists but cannot be parsed returns an error wrapping ErrCacheFile;
// the caller may log it and continue with an empty cache.
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Debug("no cache file yet", "path", c.cfg.Path)
			return nil
		}
		return fmt.Errorf("%w: %w", ErrCacheFile, err)
	}

	loaded := make(map[string]string)
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheFile, err)
	}

	c.mu.Lock()
	for mac, ip := range loaded {
		c.addrs[strings.ToLower(mac)] = ip
	}
	size := len(c.addrs)
	c.mu.Unlock()

	c.logger.Info("address cache loaded", "path", c.cfg.Path, "entries", size)
	return nil
}

// Refresh invokes the scan script and merges its result into the cache.
//
// The scan script is expected to emit a YAML mapping of ip: mac on stdout.
// The mapping is inverted on merge so the cache stays keyed by lowercase
// MAC. After a successful merge the full cache is persisted back to disk.
//
// All failure modes are soft: not configured, non-zero exit, and
// unparsable output each return a sentinel-wrapped error and leave the
// existing cache untouched.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.cfg.ScanScript == "" {
		return ErrScanNotConfigured
	}

	scanCtx := ctx
	if c.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, c.cfg.ScanTimeout)
		defer cancel()
	}

	c.logger.Info("running network scan", "script", c.cfg.ScanScript)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(scanCtx, c.cfg.ScanScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %w (stderr: %s)", ErrScanFailed, err,
			strings.TrimSpace(stderr.String()))
	}

	// Expected output format: "ip: mac" (YAML mapping).
	scanned := make(map[string]string)
	if err := yaml.Unmarshal(stdout.Bytes(), &scanned); err != nil {
		return fmt.Errorf("%w: %w", ErrScanOutput, err)
	}
	if len(scanned) == 0 {
		return fmt.Errorf("%w: scan produced no entries", ErrScanOutput)
	}

	c.mu.Lock()
	for ip, mac := range scanned {
		c.addrs[strings.ToLower(mac)] = ip
	}
	snapshot := make(map[string]string, len(c.addrs))
	for mac, ip := range c.addrs {
		snapshot[mac] = ip
	}
	c.mu.Unlock()

	if err := c.persist(snapshot); err != nil {
		return err
	}

	c.logger.Info("address cache refreshed", "entries", len(snapshot))
	return nil
}

// Lookup resolves a device IP by MAC. The MAC is lowercased before lookup.
//
// A purely numeric cached value is expanded with the configured prefix:
// a value of "47" with prefix "192.168.0" resolves to "192.168.0.47".
func (c *Cache) Lookup(mac string) (string, bool) {
	c.mu.RLock()
	ip, ok := c.addrs[strings.ToLower(mac)]
	c.mu.RUnlock()

	if !ok || ip == "" {
		return "", false
	}
	if isNumeric(ip) && c.cfg.IPPrefix != "" {
		return c.cfg.IPPrefix + "." + ip, true
	}
	return ip, true
}

// Len returns the number of known addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.addrs)
}

// persist writes the mapping to the cache file via a temp file and rename,
// so a crash mid-write never truncates the previous cache.
func (c *Cache) persist(snapshot map[string]string) error {
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	dir := filepath.Dir(c.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".cache_ip-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := os.Rename(tmpName, c.cfg.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return nil
}

// isNumeric reports whether s is non-empty and all ASCII digits.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
