// Package config loads the provider-account registry and transfer tunables
// from an INI file, the way the teacher repo's internal/config/apiconfig.go
// loads its own settings.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\objectsync\config.ini
//   - Unix:    ~/.config/objectsync/config.ini
//
// INI format:
//
//	db_path = ~/.config/objectsync/index.db
//
//	[account "r2-primary"]
//	provider = r2
//	account_id = f6f1a0...
//	bucket = assets
//	region = auto
//	path_style = true
//	access_key = ...
//	secret_key = ...
//
//	[account "aws-archive"]
//	provider = aws
//	account_id = 111122223333
//	bucket = archive
//	region = us-east-1
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// ProviderKind identifies one of the four S3-compatible dialects.
type ProviderKind string

const (
	ProviderR2      ProviderKind = "r2"
	ProviderAWS     ProviderKind = "aws"
	ProviderMinIO   ProviderKind = "minio"
	ProviderRustFS  ProviderKind = "rustfs"
)

// Account describes one provider account: enough for the provider adapter
// factory to construct an S3 client, matching spec.md §4.1's "dialect
// differences the adapter normalizes: path-style vs virtual-host addressing,
// region=auto for R2, endpoint scheme/host for self-hosted providers".
type Account struct {
	Name       string       `ini:"-"`
	Provider   ProviderKind `ini:"provider"`
	AccountID  string       `ini:"account_id"`
	Bucket     string       `ini:"bucket"`
	Region     string       `ini:"region"`
	Endpoint   string       `ini:"endpoint"`
	PathStyle  bool         `ini:"path_style"`
	AccessKey  string       `ini:"access_key"`
	SecretKey  string       `ini:"secret_key"`
	SessionTok string       `ini:"session_token"`
}

// Concurrency holds the fixed bounds from spec.md §1/§4.5/§4.7: 5 concurrent
// tasks per provider queue, 4-6 parts in flight within a task.
type Concurrency struct {
	QueueWorkers     int `ini:"queue_workers"`
	UploadPartWorkers int `ini:"upload_part_workers"`
	MovePartWorkers  int `ini:"move_part_workers"`
}

// Config is the top-level configuration loaded from the INI file.
type Config struct {
	DBPath      string `ini:"db_path"`
	Concurrency Concurrency
	Accounts    map[string]*Account
}

// DefaultPath returns the platform-appropriate config file location.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "objectsync", "config.ini")
}

// defaultDBPath derives the SQLite path from the config directory.
func defaultDBPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), "index.db")
}

// Load reads and parses the INI file at path. A missing file yields a Config
// with sane defaults and no accounts, not an error, mirroring the teacher's
// "clean break from legacy config.csv/token files" tolerance for first run.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DBPath: defaultDBPath(path),
		Concurrency: Concurrency{
			QueueWorkers:      5,
			UploadPartWorkers: 6,
			MovePartWorkers:   4,
		},
		Accounts: make(map[string]*Account),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if dbPath := f.Section("").Key("db_path").String(); dbPath != "" {
		cfg.DBPath = expandHome(dbPath)
	}
	if v := f.Section("concurrency").Key("queue_workers").MustInt(0); v > 0 {
		cfg.Concurrency.QueueWorkers = v
	}
	if v := f.Section("concurrency").Key("upload_part_workers").MustInt(0); v > 0 {
		cfg.Concurrency.UploadPartWorkers = v
	}
	if v := f.Section("concurrency").Key("move_part_workers").MustInt(0); v > 0 {
		cfg.Concurrency.MovePartWorkers = v
	}

	for _, section := range f.Sections() {
		name := section.Name()
		const prefix, suffix = `account "`, `"`
		// ini.v1 keeps a `[account "x"]` header verbatim as the section name.
		if len(name) <= len(prefix)+len(suffix) || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		acctName := name[len(prefix) : len(name)-len(suffix)]
		acct := &Account{Name: acctName}
		if err := section.MapTo(acct); err != nil {
			return nil, fmt.Errorf("failed to parse account %q: %w", acctName, err)
		}
		cfg.Accounts[acctName] = acct
	}

	return cfg, nil
}

// Validate checks that every account has enough information to dial it.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	for name, acct := range c.Accounts {
		if acct.Bucket == "" {
			return fmt.Errorf("account %q: bucket is required", name)
		}
		switch acct.Provider {
		case ProviderR2, ProviderAWS, ProviderMinIO, ProviderRustFS:
		default:
			return fmt.Errorf("account %q: unsupported provider %q", name, acct.Provider)
		}
		if (acct.Provider == ProviderMinIO || acct.Provider == ProviderRustFS) && acct.Endpoint == "" {
			return fmt.Errorf("account %q: endpoint is required for provider %q", name, acct.Provider)
		}
	}
	return nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
