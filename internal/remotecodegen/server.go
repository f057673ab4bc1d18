// Package remotecodegen exposes the backend as an HTTP/3 service: a
// client posts an IL program (internal/il's JSON wire form) and
// receives back the compiled assembly text, letting code generation
// run on a dedicated host rather than the machine driving the build.
//
// Adapted from the teacher's internal/runtime/netstack.HTTP3Server/
// HTTP3Client wrapper: the same TLS-1.3-enforcing defaults and
// ephemeral-port Start()/Stop() lifecycle, narrowed to this module's
// one route instead of a general-purpose handler host.
package remotecodegen

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"

	"github.com/lucent-lang/lucentc/internal/cgerrors"
	"github.com/lucent-lang/lucentc/internal/codegen"
	"github.com/lucent-lang/lucentc/internal/il"
	"github.com/lucent-lang/lucentc/internal/schemaver"
	"github.com/lucent-lang/lucentc/internal/target"
)

// CompilePath is the route the server answers and the client posts to.
const CompilePath = "/compile"

// Options configures the QUIC transport underneath the HTTP/3 server
// and client, mirroring the teacher's HTTP3Options.
type Options struct {
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
}

func quicConfig(opts Options) *quic.Config {
	qc := &quic.Config{}
	if opts.MaxIdleTimeout > 0 {
		qc.MaxIdleTimeout = opts.MaxIdleTimeout
	}

	if opts.KeepAlivePeriod > 0 {
		qc.KeepAlivePeriod = opts.KeepAlivePeriod
	}

	return qc
}

func enforceTLS13(tlsCfg *tls.Config) *tls.Config {
	if tlsCfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	}

	if tlsCfg.MinVersion >= tls.VersionTLS13 && len(tlsCfg.NextProtos) > 0 {
		return tlsCfg
	}

	c := tlsCfg.Clone()
	c.MinVersion = tls.VersionTLS13

	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{"h3"}
	}

	return c
}

// Server compiles IL programs posted to CompilePath.
type Server struct {
	srv   *http3.Server
	pc    net.PacketConn
	errC  chan error
	close func() error
	log   *logrus.Entry
}

// NewServer builds a Server bound to addr (":0" for an ephemeral UDP
// port), serving over kernel's target conventions.
func NewServer(addr string, tlsCfg *tls.Config, opts Options, kernel target.Kernel, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc(CompilePath, compileHandler(kernel, log))

	srv := &http3.Server{
		Addr:       addr,
		TLSConfig:  enforceTLS13(tlsCfg),
		Handler:    mux,
		QUICConfig: quicConfig(opts),
	}

	return &Server{srv: srv, errC: make(chan error, 1), log: log}
}

// Start begins serving and returns the bound address.
func (s *Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.srv.Addr)
	if err != nil {
		return "", fmt.Errorf("remotecodegen: listen: %w", err)
	}

	s.pc = pc
	realAddr := pc.LocalAddr().String()
	done := make(chan struct{})

	go func() {
		if err := s.srv.Serve(pc); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}

		close(done)
	}()

	s.close = func() error {
		_ = s.pc.Close()

		select {
		case <-done:
		case <-time.After(time.Second):
		}

		return nil
	}

	return realAddr, nil
}

// Stop closes the listener and waits briefly for the serve loop to exit.
func (s *Server) Stop() error {
	if s.close != nil {
		return s.close()
	}

	return nil
}

// Errors returns a channel receiving the first fatal serve error, if any.
func (s *Server) Errors() <-chan error { return s.errC }

func compileHandler(kernel target.Kernel, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "remotecodegen: only POST is supported", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
		if err != nil {
			http.Error(w, fmt.Sprintf("remotecodegen: reading body: %v", err), http.StatusBadRequest)
			return
		}

		prog, err := il.Decode(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("remotecodegen: decoding program: %v", err), http.StatusBadRequest)
			return
		}

		if err := schemaver.Check(prog.SchemaVersion); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		var asm bytes.Buffer

		e := codegen.New(&asm, kernel)
		if log != nil {
			e.SetLogger(clilogAdapter{log})
		}

		if err := e.Emit(prog); err != nil {
			status := http.StatusInternalServerError

			var cgErr *cgerrors.Error
			if errors.As(err, &cgErr) {
				status = http.StatusUnprocessableEntity
			}

			http.Error(w, err.Error(), status)

			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(asm.Bytes())
	}
}

// clilogAdapter satisfies internal/regalloc.Logger over a logrus.Entry,
// the same adaptation internal/clilog.RegallocLogger makes.
type clilogAdapter struct{ entry *logrus.Entry }

func (a clilogAdapter) Debugf(format string, args ...any) { a.entry.Debugf(format, args...) }
