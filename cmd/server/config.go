package main

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"sehlabs.com/mvccdb/internal/db"
)

type serverConfig struct {
	Address           string `toml:"address"`
	Port              string `toml:"port"`
	TLSCertFile       string `toml:"tls-cert-file"`
	TLSPrivateKeyFile string `toml:"tls-private-key-file"`
}

type storeConfig struct {
	// Number of key slots in the table.
	TableSize int `toml:"table-size"`
	// How long a write waits for an earlier writer of the same key to finish.
	WriteWaitTimeout time.Duration `toml:"write-wait-timeout"`
	// How many transactions to try for each write request before reporting a conflict.
	RetryAttempts int `toml:"retry-attempts"`
}

type config struct {
	Server serverConfig `toml:"server"`
	Store  storeConfig  `toml:"store"`
}

func defaultConfig() config {
	return config{
		Store: storeConfig{
			TableSize:        10,
			WriteWaitTimeout: 100 * time.Millisecond,
			RetryAttempts:    5,
		},
	}
}

// loadConfig reads a TOML file over the default configuration. Keys the file sets that the
// configuration doesn't recognize are an error.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, errors.Wrapf(err, "reading configuration file %q", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return c, errors.Errorf("configuration file %q contains unrecognized keys: %s", path, strings.Join(keys, ", "))
	}
	return c, nil
}

func (c config) validate() error {
	if len(c.Server.Address) > 0 && net.ParseIP(c.Server.Address) == nil {
		return errors.Errorf("server address %q is not an IP address", c.Server.Address)
	}
	if len(c.Server.TLSCertFile) > 0 && len(c.Server.TLSPrivateKeyFile) == 0 {
		return errors.New("TLS private key file must be nonempty when TLS certificate file is specified")
	}
	if len(c.Server.TLSPrivateKeyFile) > 0 && len(c.Server.TLSCertFile) == 0 {
		return errors.New("TLS certificate file must be nonempty when TLS private key file is specified")
	}
	if c.Store.RetryAttempts < 1 {
		return errors.New("retry attempts must be positive")
	}
	// The database validates the rest when we open it.
	return nil
}

func (c config) tls() *tlsConfig {
	if len(c.Server.TLSCertFile) == 0 {
		return nil
	}
	return &tlsConfig{
		certificateFilePath: c.Server.TLSCertFile,
		privateKeyFilePath:  c.Server.TLSPrivateKeyFile,
	}
}

func (c config) port() string {
	if len(c.Server.Port) > 0 {
		return c.Server.Port
	}
	if c.tls() != nil {
		return "443"
	}
	return "80"
}

func (c config) databaseOptions() []db.Option {
	return []db.Option{
		db.WithTableSize(c.Store.TableSize),
		db.WithWriteWaitTimeout(c.Store.WriteWaitTimeout),
	}
}
