package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns the bridge data directory: $PUSHBRIDGE_HOME when set,
// otherwise ~/.pushbridge. The override keeps test and multi-account
// deployments out of the real home directory.
func BaseDir() string {
	if dir := os.Getenv("PUSHBRIDGE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pushbridge")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// StateDBPath returns the bridge-owned state database path.
func StateDBPath(name string) string {
	return filepath.Join(Dir(name), "bridge.db")
}

// MailboxDBPath returns the message-store database path.
func MailboxDBPath(name string) string {
	return filepath.Join(Dir(name), "mailbox.db")
}

// AttachmentsDir returns the attachment blob directory for a profile.
func AttachmentsDir(name string) string {
	return filepath.Join(Dir(name), "attachments")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bridged.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		AttachmentsDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
