package addrcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	return writeFile(t, dir, name, "#!/bin/sh\n"+body+"\n", 0755)
}

func TestLoad_MissingFile(t *testing.T) {
	cache := New(Config{Path: filepath.Join(t.TempDir(), "cache_ip.yaml")})

	if err := cache.Load(); err != nil {
		t.Fatalf("Load() on missing file error = %v, want nil", err)
	}
	if got := cache.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestLoad_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cache_ip.yaml",
		"aa:bb:cc:dd:ee:ff: 192.168.0.47\nAA:BB:CC:00:11:22: \"12\"\n", 0600)

	cache := New(Config{Path: path, IPPrefix: "192.168.0"})
	if err := cache.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cache.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	ip, ok := cache.Lookup("AA:BB:CC:DD:EE:FF")
	if !ok || ip != "192.168.0.47" {
		t.Errorf("Lookup(mixed case) = %q, %v, want 192.168.0.47, true", ip, ok)
	}

	// Numeric values expand with the configured prefix.
	ip, ok = cache.Lookup("aa:bb:cc:00:11:22")
	if !ok || ip != "192.168.0.12" {
		t.Errorf("Lookup(numeric value) = %q, %v, want 192.168.0.12, true", ip, ok)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cache_ip.yaml", "not: [valid: mapping\n", 0600)

	cache := New(Config{Path: path})
	err := cache.Load()
	if !errors.Is(err, ErrCacheFile) {
		t.Errorf("Load() error = %v, want ErrCacheFile", err)
	}
}

func TestLookup_Unknown(t *testing.T) {
	cache := New(Config{})

	if ip, ok := cache.Lookup("de:ad:be:ef:00:00"); ok {
		t.Errorf("Lookup(unknown) = %q, true, want false", ip)
	}
}

func TestRefresh_NotConfigured(t *testing.T) {
	cache := New(Config{Path: filepath.Join(t.TempDir(), "cache_ip.yaml")})

	err := cache.Refresh(context.Background())
	if !errors.Is(err, ErrScanNotConfigured) {
		t.Errorf("Refresh() error = %v, want ErrScanNotConfigured", err)
	}
}

func TestRefresh_MergesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cache_ip.yaml",
		"aa:bb:cc:dd:ee:ff: 192.168.0.47\n", 0600)
	script := writeScript(t, dir, "scan.sh",
		`echo "192.168.0.80: 11:22:33:44:55:66"`)

	cache := New(Config{
		Path:        path,
		ScanScript:  script,
		ScanTimeout: 5 * time.Second,
	})
	if err := cache.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Merge is additive: the pre-existing entry survives.
	if _, ok := cache.Lookup("aa:bb:cc:dd:ee:ff"); !ok {
		t.Error("pre-existing entry lost after refresh")
	}
	ip, ok := cache.Lookup("11:22:33:44:55:66")
	if !ok || ip != "192.168.0.80" {
		t.Errorf("Lookup(scanned) = %q, %v, want 192.168.0.80, true", ip, ok)
	}

	// The merged mapping is persisted and reloadable.
	reloaded := New(Config{Path: path})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if got := reloaded.Len(); got != 2 {
		t.Errorf("reloaded Len() = %d, want 2", got)
	}
}

func TestRefresh_ScriptFailureLeavesCacheUntouched(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cache_ip.yaml",
		"aa:bb:cc:dd:ee:ff: 192.168.0.47\n", 0600)
	script := writeScript(t, dir, "scan.sh",
		`echo "scan blew up" >&2; exit 3`)

	cache := New(Config{Path: path, ScanScript: script})
	if err := cache.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err := cache.Refresh(context.Background())
	if !errors.Is(err, ErrScanFailed) {
		t.Fatalf("Refresh() error = %v, want ErrScanFailed", err)
	}

	if _, ok := cache.Lookup("aa:bb:cc:dd:ee:ff"); !ok {
		t.Error("cache entry lost after failed scan")
	}
	if got := cache.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestRefresh_BadOutput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"garbage", `echo "][ not yaml at all: ["`},
		{"empty", `true`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, dir, "scan-"+tt.name+".sh", tt.body)
			cache := New(Config{
				Path:       filepath.Join(dir, "cache-"+tt.name+".yaml"),
				ScanScript: script,
			})

			err := cache.Refresh(context.Background())
			if !errors.Is(err, ErrScanOutput) {
				t.Errorf("Refresh() error = %v, want ErrScanOutput", err)
			}
		})
	}
}

func TestRefresh_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "scan.sh", "sleep 10")

	cache := New(Config{
		Path:        filepath.Join(dir, "cache_ip.yaml"),
		ScanScript:  script,
		ScanTimeout: 50 * time.Millisecond,
	})

	err := cache.Refresh(context.Background())
	if !errors.Is(err, ErrScanFailed) {
		t.Errorf("Refresh() error = %v, want ErrScanFailed", err)
	}
}
