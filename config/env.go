package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the system where
// a node is deployed. This enables host adaptions
// without needing to maintain different config files.
type Env struct {
	Name           string
	ListenAddr     string
	PrometheusAddr string
}

// Functions

// LoadEnv reads envFile, if it exists, into the process
// environment and returns the SHOB_* variables. Variables
// already set in the environment take precedence.
func LoadEnv(envFile string) (*Env, error) {

	if envFile != "" {

		err := godotenv.Load(envFile)
		if err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "failed to read in env file '%s'", envFile)
		}
	}

	env := &Env{
		Name:           os.Getenv("SHOB_NAME"),
		ListenAddr:     os.Getenv("SHOB_LISTEN_ADDR"),
		PrometheusAddr: os.Getenv("SHOB_PROMETHEUS_ADDR"),
	}

	return env, nil
}

// Apply overrides conf with all non-empty values of env.
func (env *Env) Apply(conf *Config) {

	if env.Name != "" {
		conf.Name = env.Name
	}

	if env.ListenAddr != "" {
		conf.ListenAddr = env.ListenAddr
	}

	if env.PrometheusAddr != "" {
		conf.PrometheusAddr = env.PrometheusAddr
	}
}
