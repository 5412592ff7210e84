package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/config"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.ini"))
	require.NoError(t, err)
	require.Empty(t, cfg.Accounts)
	require.Equal(t, 5, cfg.Concurrency.QueueWorkers)
	require.Equal(t, 6, cfg.Concurrency.UploadPartWorkers)
	require.Equal(t, 4, cfg.Concurrency.MovePartWorkers)
}

func TestLoadParsesAccountsAndConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	contents := `db_path = index.db

[concurrency]
queue_workers = 5
upload_part_workers = 6
move_part_workers = 4

[account "r2-primary"]
provider = r2
account_id = acct-1
bucket = assets
region = auto
path_style = true
access_key = AK
secret_key = SK

[account "minio-local"]
provider = minio
account_id = acct-2
bucket = backups
endpoint = http://localhost:9000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)

	r2 := cfg.Accounts["r2-primary"]
	require.Equal(t, config.ProviderR2, r2.Provider)
	require.Equal(t, "assets", r2.Bucket)
	require.True(t, r2.PathStyle)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMinIOWithoutEndpoint(t *testing.T) {
	cfg := &config.Config{
		DBPath: "index.db",
		Accounts: map[string]*config.Account{
			"minio-x": {Provider: config.ProviderMinIO, Bucket: "b"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsMissingBucket(t *testing.T) {
	cfg := &config.Config{
		DBPath: "index.db",
		Accounts: map[string]*config.Account{
			"aws-x": {Provider: config.ProviderAWS},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{
		DBPath: "index.db",
		Accounts: map[string]*config.Account{
			"x": {Provider: "azure", Bucket: "b"},
		},
	}
	require.Error(t, cfg.Validate())
}
