package main

import (
	"context"
	goflag "flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"sehlabs.com/mvccdb/internal/db"
)

func fatal(code int, m string) {
	glog.Flush()
	fmt.Fprintln(os.Stderr, m)
	os.Exit(code)
}

func fatalf(code int, format string, a ...interface{}) {
	glog.Flush()
	w := os.Stderr
	if _, err := fmt.Fprintf(w, format, a...); err == nil {
		fmt.Fprintln(w)
	}
	os.Exit(code)
}

var (
	configFile         string
	serverAddress      net.IP
	serverPort         string
	tlsCertificateFile string
	tlsPrivateKeyFile  string
	tableSize          int
	writeWaitTimeout   = defaultConfig().Store.WriteWaitTimeout
	retryAttempts      int
)

func init() {
	flag.StringVar(&configFile, "config", "",
		`TOML file from which to read configuration; flags given explicitly override it`)
	flag.IPVar(&serverAddress, "server-address", nil,
		`IP address on which to serve HTTP requests`)
	flag.StringVar(&serverPort, "server-port", "",
		`Port on which to serve HTTP requests`)
	flag.StringVar(&tlsCertificateFile, "tls-cert-file", "",
		`File containing the X.509 certificates with which to serve HTTPS,
containing certificates for this server, any intermediate CAs, and the CA`)
	flag.StringVar(&tlsPrivateKeyFile, "tls-private-key-file", "",
		`File containing the X.509 private key for the first X.509 certificate
in --tls-cert-file`)
	flag.IntVar(&tableSize, "table-size", defaultConfig().Store.TableSize,
		`Number of key slots in the database table`)
	flag.DurationVar(&writeWaitTimeout, "write-wait-timeout", writeWaitTimeout,
		`How long a write waits for an earlier writer of the same key to finish`)
	flag.IntVar(&retryAttempts, "retry-attempts", defaultConfig().Store.RetryAttempts,
		`How many transactions to try for each write request before reporting a conflict`)
	// Expose glog's flags (-v, --logtostderr, and so on) alongside ours.
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
}

// resolveConfig merges the configuration file, if any, with the flags set explicitly.
func resolveConfig() (config, error) {
	c := defaultConfig()
	if len(configFile) > 0 {
		var err error
		if c, err = loadConfig(configFile); err != nil {
			return c, err
		}
	}
	changed := flag.CommandLine.Changed
	if changed("server-address") {
		c.Server.Address = serverAddress.String()
	}
	if changed("server-port") {
		c.Server.Port = serverPort
	}
	if changed("tls-cert-file") {
		c.Server.TLSCertFile = tlsCertificateFile
	}
	if changed("tls-private-key-file") {
		c.Server.TLSPrivateKeyFile = tlsPrivateKeyFile
	}
	if changed("table-size") {
		c.Store.TableSize = tableSize
	}
	if changed("write-wait-timeout") {
		c.Store.WriteWaitTimeout = writeWaitTimeout
	}
	if changed("retry-attempts") {
		c.Store.RetryAttempts = retryAttempts
	}
	return c, c.validate()
}

type tlsConfig struct {
	certificateFilePath string
	privateKeyFilePath  string
}

func joinIPAddressAndPort(address string, port string) string {
	var host string
	if ip := net.ParseIP(address); ip != nil && !ip.IsUnspecified() {
		host = ip.String()
	}
	return net.JoinHostPort(host, port)
}

func runHTTPServer(addr string, tlsConf *tlsConfig, handler http.Handler, stop <-chan struct{}) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-stop
		// Don't bother imposing a timeout here.
		if err := server.Shutdown(context.Background()); err != nil {
			glog.Errorf("failed to shut down HTTP server: %v", err)
		}
	}()
	var err error
	if tlsConf != nil {
		err = server.ListenAndServeTLS(tlsConf.certificateFilePath, tlsConf.privateKeyFilePath)
	} else {
		err = server.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		return err
	}
	wg.Wait()
	return nil
}

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf, err := resolveConfig()
	if err != nil {
		fatal(2, err.Error())
	}
	store, err := db.MakeDatabase(conf.databaseOptions()...)
	if err != nil {
		fatalf(1, "Failed to create database: %v", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler := makeHandler(store, conf.Store.RetryAttempts, reg)

	addr := joinIPAddressAndPort(conf.Server.Address, conf.port())
	glog.Infof("serving %d keys on %s (write wait timeout %s, %d attempts per write)",
		store.Size(), addr, conf.Store.WriteWaitTimeout, conf.Store.RetryAttempts)
	if err := runHTTPServer(addr, conf.tls(), handler, ctx.Done()); err != nil {
		fatalf(1, "HTTP server failed: %v", err)
	}
	glog.Info("server stopped")
}
