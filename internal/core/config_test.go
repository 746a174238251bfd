package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
provider: aws
ssh:
  user: ubuntu
  key_path: ~/.ssh/id_ed25519
tag:
  key: cluster
  value: demo
master:
  tag: {key: role, value: master}
worker:
  tag: {key: role, value: worker}
aws:
  region: ap-northeast-1
fleet:
  concurrency: 4
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("VULTR_TOKEN", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kubeprovision"), 0o700))
	writeFile(t, filepath.Join(dir, "kubeprovision"), "secrets.env", "# creds\nexport AWS_ACCESS_KEY_ID=AKIA123\nAWS_SECRET_ACCESS_KEY=\"s3cr3t\"\n")

	cfg, err := LoadConfig(writeFile(t, dir, "config.yaml", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "aws", cfg.Provider)
	assert.Equal(t, "ubuntu", cfg.SSH.User)
	assert.Equal(t, filepath.Join(dir, ".ssh", "id_ed25519"), cfg.SSH.KeyPath)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 15, cfg.SSH.TimeoutSeconds)
	assert.Equal(t, filepath.Join(dir, "kubeprovision", "known_hosts"), cfg.SSH.KnownHosts)
	assert.Equal(t, filepath.Join(dir, "kubeprovision", "journal.db"), cfg.Journal.Path)
	assert.Equal(t, "AKIA123", cfg.AWS.AccessKeyID)
	assert.Equal(t, "s3cr3t", cfg.AWS.SecretAccessKey)
	assert.Equal(t, 4, cfg.Fleet.Concurrency)

	tags := cfg.TagSpec()
	assert.Equal(t, "cluster", tags.Base.Key)
	require.NotNil(t, tags.Master.Value)
	assert.Equal(t, "master", *tags.Master.Value)
}

func TestLoadConfigEnvOverridesSecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("VULTR_TOKEN", "from-env")
	cfg, err := LoadConfig(writeFile(t, dir, "config.yaml", sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Vultr.Token)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	_, err := LoadConfig(writeFile(t, dir, "bad.yaml", "provider: aws\ntag: {key: cluster}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh.user is required")
	assert.Contains(t, err.Error(), "master.tag.key is required")

	_, err = LoadConfig(writeFile(t, dir, "broken.yaml", "provider: [\n"))
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "open config")
}

func TestDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("KUBEPROVISION_CONFIG", "")
	t.Setenv("CONFIG", "")
	assert.Equal(t, filepath.Join(dir, "kubeprovision", "config.yaml"), DefaultConfigPath())

	t.Setenv("CONFIG", "/etc/legacy.yaml")
	assert.Equal(t, "/etc/legacy.yaml", DefaultConfigPath())

	t.Setenv("KUBEPROVISION_CONFIG", "/etc/kp.yaml")
	assert.Equal(t, "/etc/kp.yaml", DefaultConfigPath())
}

func TestLoadSecretsEnvMissingFile(t *testing.T) {
	m, err := LoadSecretsEnv(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.Empty(t, m)
}
