package config

import (
	"fmt"
	"time"

	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Constants

// Object types a configured subject may have.
const (
	TypeHash  = "hash"
	TypeQueue = "queue"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Name           string
	ListenAddr     string
	PrometheusAddr string
	SendTimeout    time.Duration
	TLS            TLS
	Peers          map[string]string
	Queues         map[string][]string
	Shared         Shared
	Subjects       []Subject
}

// TLS points to the certificate material used between
// nodes. An empty CertLoc means plaintext.
type TLS struct {
	CertLoc     string
	KeyLoc      string
	RootCertLoc string
}

// Shared configures the shared object manager.
type Shared struct {
	AutoReplyQueue       string
	AutoReplyQueueDerive bool
	MaxMessageSize       int
	DumpFile             string
	DumpInterval         time.Duration
	EnableNotifications  bool
	WatchKeys            []string
}

// Subject is a shared object created at startup.
// With Request set, its contents are requested from
// the broadcast queue right away.
type Subject struct {
	Name    string
	Type    string
	Queue   string
	Request bool
}

// Functions

// Enabled reports whether TLS material is configured.
func (t TLS) Enabled() bool {
	return t.CertLoc != ""
}

// LoadConfig takes in the path to the main config
// file in TOML syntax and places the values from
// the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	meta, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key '%s' in config file '%s'", undecoded[0], configFile)
	}

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file '%s'", configFile)
	}

	// Relative paths are relative to the config file.
	base, err := filepath.Abs(filepath.Dir(configFile))
	if err != nil {
		return nil, errors.Wrap(err, "could not get absolute path of config directory")
	}

	conf.TLS.CertLoc = absPath(base, conf.TLS.CertLoc)
	conf.TLS.KeyLoc = absPath(base, conf.TLS.KeyLoc)
	conf.TLS.RootCertLoc = absPath(base, conf.TLS.RootCertLoc)
	conf.Shared.DumpFile = absPath(base, conf.Shared.DumpFile)

	return conf, nil
}

// Validate checks that the routing table is consistent
// and that all subjects are well-formed.
func (conf *Config) Validate() error {

	if conf.Name == "" {
		return errors.New("missing node name")
	}

	if _, exists := conf.Peers[conf.Name]; exists {
		return fmt.Errorf("node '%s' lists itself as peer", conf.Name)
	}

	for queue, members := range conf.Queues {

		if _, exists := conf.Peers[queue]; exists {
			return fmt.Errorf("queue '%s' has the name of a peer", queue)
		}

		for _, member := range members {

			if member == conf.Name {
				continue
			}

			if _, exists := conf.Peers[member]; !exists {
				return fmt.Errorf("queue '%s' contains unknown peer '%s'", queue, member)
			}
		}
	}

	if conf.TLS.Enabled() && (conf.TLS.KeyLoc == "" || conf.TLS.RootCertLoc == "") {
		return errors.New("TLS needs certificate, key and root certificate")
	}

	if conf.Shared.MaxMessageSize < 0 {
		return errors.New("maximum message size must not be negative")
	}

	for _, subject := range conf.Subjects {

		if subject.Name == "" {
			return errors.New("subject without name")
		}

		if subject.Type != TypeHash && subject.Type != TypeQueue {
			return fmt.Errorf("subject '%s' has unknown type '%s'", subject.Name, subject.Type)
		}

		if subject.Queue == "" {
			return fmt.Errorf("subject '%s' has no broadcast queue", subject.Name)
		}
	}

	return nil
}

// absPath prefixes a relative, non-empty path with base.
func absPath(base string, path string) string {

	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}
