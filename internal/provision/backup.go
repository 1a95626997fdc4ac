package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backup directory layout constants.
const (
	backupTimeFormat = "2006-01-02_15-04-05"

	backupDirPermissions  = 0750
	backupFilePermissions = 0600
)

// BackupSession is the per-run, per-family dump directory. Every device
// configuration is dumped here before it is mutated, so a bad run can
// always be rolled back by hand.
//
// Layout: <root>/<family>/<timestamp>/mac-<MAC>-<hostname>.<ext>
// The session directory is shared by all devices of one family in one run.
type BackupSession struct {
	dir string
}

// NewBackupSession creates the timestamped dump directory for a family.
func NewBackupSession(root, family string) (*BackupSession, error) {
	dir := filepath.Join(root, family, time.Now().Format(backupTimeFormat))
	if err := os.MkdirAll(dir, backupDirPermissions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackup, err)
	}
	return &BackupSession{dir: dir}, nil
}

// Dir returns the session directory path.
func (s *BackupSession) Dir() string {
	return s.dir
}

// Write stores one device dump and returns the written path.
func (s *BackupSession) Write(mac, hostname, ext string, data []byte) (string, error) {
	name := fmt.Sprintf("mac-%s-%s.%s", mac, hostname, ext)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, backupFilePermissions); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackup, err)
	}
	return path, nil
}
