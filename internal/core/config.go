package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	prov "github.com/3cpo-dev/kubeprovision/internal/providers"
)

const appName = "kubeprovision"

// ConfigDir resolves $XDG_CONFIG_HOME/kubeprovision or ~/.config/kubeprovision.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigPath returns the path used when no --config flag is given.
// KUBEPROVISION_CONFIG takes precedence over CONFIG.
func DefaultConfigPath() string {
	for _, env := range []string{"KUBEPROVISION_CONFIG", "CONFIG"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfig reads YAML configuration from path, merges secrets and applies
// defaults. An empty path resolves to DefaultConfigPath.
func LoadConfig(path string) (prov.Config, error) {
	var cfg prov.Config
	if path == "" {
		path = DefaultConfigPath()
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Secrets live in secrets.env or the environment rather than the YAML file.
	secrets, _ := LoadSecretsEnv("")
	for _, k := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN", "VULTR_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	mergeSecrets(&cfg, secrets)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeSecrets(cfg *prov.Config, secrets map[string]string) {
	set := func(dst *string, key string) {
		if *dst == "" && secrets[key] != "" {
			*dst = secrets[key]
		}
	}
	set(&cfg.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	set(&cfg.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	set(&cfg.AWS.SessionToken, "AWS_SESSION_TOKEN")
	set(&cfg.Vultr.Token, "VULTR_TOKEN")
}

func applyDefaults(cfg *prov.Config) {
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.TimeoutSeconds == 0 {
		cfg.SSH.TimeoutSeconds = 15
	}
	if cfg.SSH.KnownHosts == "" {
		cfg.SSH.KnownHosts = filepath.Join(ConfigDir(), "known_hosts")
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(ConfigDir(), "journal.db")
	}
	if cfg.SSH.KeyPath != "" {
		cfg.SSH.KeyPath = expandHome(cfg.SSH.KeyPath)
	}
}

// Validate reports configuration that can not drive any command.
func Validate(cfg prov.Config) error {
	var errs []error
	if cfg.Provider == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if cfg.SSH.User == "" {
		errs = append(errs, errors.New("ssh.user is required"))
	}
	if cfg.Tag.Key == "" {
		errs = append(errs, errors.New("tag.key is required"))
	}
	if cfg.Master.Tag.Key == "" {
		errs = append(errs, errors.New("master.tag.key is required"))
	}
	if cfg.Worker.Tag.Key == "" {
		errs = append(errs, errors.New("worker.tag.key is required"))
	}
	if cfg.Fleet.Concurrency < 0 {
		errs = append(errs, errors.New("fleet.concurrency must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
