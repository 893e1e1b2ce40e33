// Command sshc is a minimal SSH client built on the relaylink/sshd
// transport and connection layers: it dials a server, authenticates, and
// runs one remote command, printing its stdout/stderr.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	flags "github.com/zmap/zflags"
	"gopkg.in/yaml.v2"

	"github.com/relaylink/sshd/ssh"
)

// Flags is the CLI override set, using the same struct-tag convention as
// cmd/sshd.
type Flags struct {
	ConfigFile     string `short:"c" long:"config" description:"YAML config file path" default:"sshc.yaml"`
	Host           string `positional-arg-name:"host" description:"user@host:port"`
	Command        string `short:"e" long:"command" description:"remote command to run"`
	KnownHostsFile string `long:"known-hosts" description:"known_hosts file path"`
	IdentityFile   string `short:"i" long:"identity" description:"private key file"`
	Insecure       bool   `long:"insecure" description:"skip host key verification (testing only)"`
	LogLevel       string `long:"log-level" description:"logrus level" default:"info"`
}

type fileConfig struct {
	KnownHostsFile string `yaml:"known_hosts_file"`
	IdentityFile   string `yaml:"identity_file"`
	LogLevel       string `yaml:"log_level"`
}

func main() {
	var opt Flags
	parser := flags.NewParser(&opt, flags.Default)
	args, _, _, err := parser.Parse()
	if err != nil {
		os.Exit(1)
	}
	if opt.Host == "" && len(args) > 0 {
		opt.Host = args[0]
	}
	if opt.Host == "" {
		fmt.Fprintln(os.Stderr, "sshc: a host argument is required (user@host:port)")
		os.Exit(1)
	}

	var fc fileConfig
	if data, rerr := os.ReadFile(opt.ConfigFile); rerr == nil {
		yaml.Unmarshal(data, &fc)
	}
	if opt.KnownHostsFile != "" {
		fc.KnownHostsFile = opt.KnownHostsFile
	}
	if opt.IdentityFile != "" {
		fc.IdentityFile = opt.IdentityFile
	}
	if opt.LogLevel != "" {
		fc.LogLevel = opt.LogLevel
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(fc.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	user, addr := splitUserHost(opt.Host)

	var hostKeyCallback ssh.HostKeyCallback
	if opt.Insecure {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		kh, err := ssh.NewKnownHosts(fc.KnownHostsFile)
		if err != nil {
			logger.WithError(err).Fatal("sshc: failed to load known_hosts")
		}
		hostKeyCallback = kh.HostKeyCallback()
	}

	var auth []ssh.AuthMethod
	if fc.IdentityFile != "" {
		signer, err := loadIdentity(fc.IdentityFile)
		if err != nil {
			logger.WithError(err).Fatal("sshc: failed to load identity")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}

	conn, chans, reqs, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		logger.WithError(err).Fatal("sshc: dial failed")
	}
	defer conn.Close()

	go ssh.DiscardRequests(reqs)
	go ssh.DiscardChannels(chans)

	session, err := ssh.NewSession(conn)
	if err != nil {
		logger.WithError(err).Fatal("sshc: session failed")
	}
	defer session.Close()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	cmd := opt.Command
	if cmd == "" {
		if err := session.Shell(); err != nil {
			logger.WithError(err).Fatal("sshc: shell failed")
		}
	} else if err := session.Start(cmd); err != nil {
		logger.WithError(err).Fatal("sshc: exec failed")
	}

	if err := session.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func splitUserHost(spec string) (user, addr string) {
	user = "root"
	addr = spec
	for i := 0; i < len(spec); i++ {
		if spec[i] == '@' {
			user = spec[:i]
			addr = spec[i+1:]
			break
		}
	}
	return user, addr
}

func loadIdentity(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}
