package providers

import "github.com/3cpo-dev/kubeprovision/internal/node"

type TagConfig struct {
	Key   string  `yaml:"key"`
	Value *string `yaml:"value"`
}

type LocalHost struct {
	ID    string            `yaml:"id"`
	IP    string            `yaml:"ip"`
	State string            `yaml:"state"`
	Tags  map[string]string `yaml:"tags"`
}

type Config struct {
	Provider string `yaml:"provider"`
	SSH      struct {
		User           string `yaml:"user"`
		KeyPath        string `yaml:"key_path"`
		KnownHosts     string `yaml:"known_hosts"`
		StrictHostKeys bool   `yaml:"strict_host_keys"`
		Port           int    `yaml:"port"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"ssh"`
	Tag    TagConfig `yaml:"tag"`
	Master struct {
		Tag TagConfig `yaml:"tag"`
	} `yaml:"master"`
	Worker struct {
		Tag TagConfig `yaml:"tag"`
	} `yaml:"worker"`
	AWS struct {
		Region          string `yaml:"region"`
		Profile         string `yaml:"profile"`
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		SessionToken    string `yaml:"session_token"`
		MaxRetries      int    `yaml:"max_retries"`
	} `yaml:"aws"`
	Vultr struct {
		Token string `yaml:"token"`
	} `yaml:"vultr"`
	LocalSSH struct {
		Hosts []LocalHost `yaml:"hosts"`
	} `yaml:"localssh"`
	Provision struct {
		Runtime string            `yaml:"runtime"`
		Modules []string          `yaml:"modules"`
		Sysctl  map[string]string `yaml:"sysctl"`
	} `yaml:"provision"`
	Fleet struct {
		Concurrency    int `yaml:"concurrency"`
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"fleet"`
	Journal struct {
		Path     string `yaml:"path"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"journal"`
	Telemetry struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// Filter converts the YAML tag block into a node.TagFilter.
func (t TagConfig) Filter() node.TagFilter {
	return node.TagFilter{Key: t.Key, Value: t.Value}
}

// TagSpec assembles the discovery tag spec from the configuration.
func (c Config) TagSpec() node.TagSpec {
	return node.TagSpec{
		Base:   c.Tag.Filter(),
		Master: c.Master.Tag.Filter(),
		Worker: c.Worker.Tag.Filter(),
	}
}
