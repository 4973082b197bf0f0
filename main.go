package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/crypto"
	"github.com/spf13/pflag"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// generatePKI writes certificates for this node and
// all of its peers into dir.
func generatePKI(conf *config.Config, dir string) error {

	nodes := []string{conf.Name}
	hosts := make([]string, 0, len(conf.Peers)+1)

	if host, _, err := net.SplitHostPort(conf.ListenAddr); err == nil && host != "" {
		hosts = append(hosts, host)
	}

	for peer, addr := range conf.Peers {

		nodes = append(nodes, peer)

		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			hosts = append(hosts, host)
		}
	}

	pki := &crypto.PKI{
		Dir:      dir,
		Nodes:    nodes,
		Hosts:    hosts,
		ValidFor: 365 * 24 * time.Hour,
		RSABits:  4096,
	}

	return pki.Generate()
}

func main() {

	// Set CPUs usable by shob to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	configFlag := pflag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	envFlag := pflag.String("env", ".env", "Provide path to an optional .env file overriding host specific values.")
	loglevelFlag := pflag.String("loglevel", "debug", "This flag sets the default logging level.")
	dumpFlag := pflag.String("dump", "", "Periodically dump all shared objects into this file, overriding the config.")
	pkiFlag := pflag.String("gen-pki", "", "Generate the internal PKI for this node and its peers into this directory and exit.")
	pflag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	env, err := config.LoadEnv(*envFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the environment", "err", err,
		)
		os.Exit(1)
	}
	env.Apply(conf)

	if *dumpFlag != "" {
		conf.Shared.DumpFile = *dumpFlag
	}

	if *pkiFlag != "" {

		if err := generatePKI(conf, *pkiFlag); err != nil {
			level.Error(logger).Log(
				"msg", "failed to generate internal PKI", "err", err,
			)
			os.Exit(2)
		}

		level.Info(logger).Log("msg", "generated internal PKI", "dir", *pkiFlag)
		return
	}

	logger = log.With(logger, "node", conf.Name)

	shobMetrics := NewShobMetrics(conf.PrometheusAddr)
	go runPromHTTP(logger, conf.PrometheusAddr)

	lis, err := net.Listen("tcp", conf.ListenAddr)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to listen for peers",
			"addr", conf.ListenAddr,
			"err", err,
		)
		os.Exit(3)
	}

	n, err := newNode(logger, conf, shobMetrics, lis)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to initialize node", "err", err,
		)
		os.Exit(4)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = n.run(ctx)
	n.close()

	if err != nil {
		level.Error(logger).Log(
			"msg", "node stopped unexpectedly", "err", err,
		)
		os.Exit(5)
	}

	level.Info(logger).Log("msg", "node shut down")
}
