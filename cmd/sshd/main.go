// Command sshd runs an SSH server built on the relaylink/sshd transport
// and connection layers, wiring its own config file plus CLI flag
// overrides into a ssh.ServerConfig, Prometheus metrics, and an audit
// sink.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flags "github.com/zmap/zflags"
	"gopkg.in/yaml.v2"

	"github.com/relaylink/sshd/ssh"
)

// Flags is the CLI surface: ConfigFile names the YAML file, and every
// other field is an override for the matching fileConfig key.
type Flags struct {
	ConfigFile   string `short:"c" long:"config" description:"YAML config file path" default:"sshd.yaml"`
	ListenAddr   string `short:"l" long:"listen" description:"address to listen on"`
	HostKeyFile  string `long:"host-key" description:"path to a PEM host private key"`
	MetricsAddr  string `long:"metrics-addr" description:"address to serve Prometheus metrics on"`
	AMQPURL      string `long:"audit-amqp-url" description:"AMQP URL for the audit sink"`
	AMQPExchange string `long:"audit-amqp-exchange" description:"AMQP exchange name for the audit sink" default:"ssh.audit"`
	LogLevel     string `long:"log-level" description:"logrus level" default:"info"`
}

// fileConfig is the YAML shape sshd.yaml is unmarshaled into; CLI flags
// above override whatever it sets, never the reverse.
type fileConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	HostKeyFile  string `yaml:"host_key_file"`
	MetricsAddr  string `yaml:"metrics_addr"`
	AMQPURL      string `yaml:"audit_amqp_url"`
	AMQPExchange string `yaml:"audit_amqp_exchange"`
	LogLevel     string `yaml:"log_level"`

	MaxAuthTries    int  `yaml:"max_auth_tries"`
	RekeyAfterBytes int  `yaml:"rekey_after_bytes"`
	StrictKEX       bool `yaml:"strict_kex"`
}

func main() {
	var opt Flags
	parser := flags.NewParser(&opt, flags.Default)
	if _, _, _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	var fc fileConfig
	if data, err := os.ReadFile(opt.ConfigFile); err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			fmt.Fprintf(os.Stderr, "sshd: invalid config file %s: %v\n", opt.ConfigFile, err)
			os.Exit(1)
		}
	}

	applyOverride(&fc.ListenAddr, opt.ListenAddr)
	applyOverride(&fc.HostKeyFile, opt.HostKeyFile)
	applyOverride(&fc.MetricsAddr, opt.MetricsAddr)
	applyOverride(&fc.AMQPURL, opt.AMQPURL)
	applyOverride(&fc.AMQPExchange, opt.AMQPExchange)
	applyOverride(&fc.LogLevel, opt.LogLevel)

	if fc.ListenAddr == "" {
		fc.ListenAddr = ":2222"
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(fc.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	hostKey, err := loadHostKey(fc.HostKeyFile)
	if err != nil {
		logger.WithError(err).Fatal("sshd: failed to load host key")
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, fmt.Errorf("ssh: password auth not configured")
		},
	}
	config.Config.MaxAuthTries = fc.MaxAuthTries
	if fc.RekeyAfterBytes > 0 {
		config.Config.RekeyThreshold = uint64(fc.RekeyAfterBytes)
	}
	config.Config.StrictKex = fc.StrictKEX
	config.AddHostKey(hostKey)

	metrics := ssh.NewMetrics(prometheus.DefaultRegisterer)
	config.Metrics = metrics

	var audit ssh.AuditSink = ssh.LogAuditSink{Logger: logger}
	if fc.AMQPURL != "" {
		sink, _, err := ssh.NewAMQPAuditSink(fc.AMQPURL, fc.AMQPExchange, logger)
		if err != nil {
			logger.WithError(err).Warn("sshd: audit AMQP sink unavailable, falling back to logging")
		} else {
			audit = sink
		}
	}

	if fc.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.WithField("addr", fc.MetricsAddr).Info("sshd: serving metrics")
			if err := http.ListenAndServe(fc.MetricsAddr, mux); err != nil {
				logger.WithError(err).Warn("sshd: metrics server exited")
			}
		}()
	}

	registry := ssh.NewChannelRegistry(logger)
	registry.Register(ssh.ChannelTypeDirectTCPIP, ssh.HandleDirectTCPIP)

	l, err := net.Listen("tcp", fc.ListenAddr)
	if err != nil {
		logger.WithError(err).Fatal("sshd: listen failed")
	}
	logger.WithField("addr", fc.ListenAddr).Info("sshd: listening")

	server := &ssh.Server{
		Config:   config,
		Channels: registry,
		Metrics:  metrics,
		Audit:    audit,
	}
	if err := server.Serve(l); err != nil {
		logger.WithError(err).Fatal("sshd: serve exited")
	}
}

func applyOverride(dst *string, override string) {
	if override != "" {
		*dst = override
	}
}

func loadHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, fmt.Errorf("sshd: --host-key is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}
