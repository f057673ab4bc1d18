// Package main provides the entry point for lucentc-remoted, the
// remote code generation daemon: it serves internal/remotecodegen's
// /compile route over HTTP/3, letting code generation run on a
// dedicated host instead of the machine driving the build.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucent-lang/lucentc/internal/clilog"
	"github.com/lucent-lang/lucentc/internal/remotecodegen"
	"github.com/lucent-lang/lucentc/internal/target"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		verbose     = flag.Bool("verbose", false, "enable verbose logging")
		debug       = flag.Bool("debug", false, "enable debug logging, including allocator spill/reload decisions")
		darwin      = flag.Bool("darwin", false, "serve the Darwin symbol-decoration convention instead of Linux")
		addr        = flag.String("addr", ":4433", "UDP address to bind the HTTP/3 listener to")
		certPath    = flag.String("cert", "", "path to a TLS certificate (PEM)")
		keyPath     = flag.String("key", "", "path to the certificate's private key (PEM)")
		idleTimeout = flag.Duration("idle-timeout", 30*time.Second, "QUIC max idle timeout")
		keepAlive   = flag.Duration("keepalive", 10*time.Second, "QUIC keepalive period")
	)

	flag.Parse()

	if *showVersion {
		clilog.PrintVersion("lucentc-remoted", *jsonOutput)
		return
	}

	if *certPath == "" || *keyPath == "" {
		fmt.Fprintln(os.Stderr, "lucentc-remoted: -cert and -key are required")
		flag.PrintDefaults()
		os.Exit(1)
	}

	log := clilog.New(*verbose, *debug)
	kernel := target.Linux

	if *darwin {
		kernel = target.Darwin
	}

	cert, err := tls.LoadX509KeyPair(*certPath, *keyPath)
	if err != nil {
		log.Errorf("lucentc-remoted: loading TLS certificate: %v", err)
		os.Exit(1)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	opts := remotecodegen.Options{MaxIdleTimeout: *idleTimeout, KeepAlivePeriod: *keepAlive}

	srv := remotecodegen.NewServer(*addr, tlsCfg, opts, kernel, log.WithField("component", "remotecodegen"))

	boundAddr, err := srv.Start()
	if err != nil {
		log.Errorf("lucentc-remoted: starting server: %v", err)
		os.Exit(1)
	}

	log.Infof("lucentc-remoted: listening on %s", boundAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("lucentc-remoted: shutting down")
	case err := <-srv.Errors():
		log.Errorf("lucentc-remoted: server error: %v", err)
	}

	if err := srv.Stop(); err != nil {
		logFatal(log, err)
	}
}

func logFatal(log *logrus.Logger, err error) {
	log.Errorf("lucentc-remoted: stopping server: %v", err)
	os.Exit(1)
}
