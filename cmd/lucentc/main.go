// Package main provides the entry point for lucentc, the code
// generation backend's command-line driver: it reads an IL program
// (internal/il's JSON wire form), checks its schema version, and
// writes the compiled x86-64 assembly.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lucent-lang/lucentc/internal/buildcache"
	"github.com/lucent-lang/lucentc/internal/clilog"
	"github.com/lucent-lang/lucentc/internal/codegen"
	"github.com/lucent-lang/lucentc/internal/il"
	"github.com/lucent-lang/lucentc/internal/schemaver"
	"github.com/lucent-lang/lucentc/internal/target"
	"github.com/lucent-lang/lucentc/internal/watch"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		verbose     = flag.Bool("verbose", false, "enable verbose logging")
		debug       = flag.Bool("debug", false, "enable debug logging, including allocator spill/reload decisions")
		darwin      = flag.Bool("darwin", false, "target the Darwin symbol-decoration convention instead of Linux")
		outPath     = flag.String("o", "", "write assembly to this path instead of stdout")
		watchMode   = flag.Bool("watch", false, "recompile whenever the input file changes")
	)

	flag.Parse()

	if *showVersion {
		clilog.PrintVersion("lucentc", *jsonOutput)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "lucentc: no input file specified")
		showUsage()
		os.Exit(1)
	}

	log := clilog.New(*verbose, *debug)
	kernel := target.Linux

	if *darwin {
		kernel = target.Darwin
	}

	inputPath := args[0]

	if !*watchMode {
		if err := compileFile(inputPath, *outPath, kernel, log); err != nil {
			log.Error(err)
			os.Exit(1)
		}

		return
	}

	runWatch(inputPath, *outPath, kernel, log)
}

// compileToAssembly decodes and version-checks raw, then emits its
// compiled assembly text.
func compileToAssembly(raw []byte, kernel target.Kernel, log *logrus.Logger) ([]byte, error) {
	prog, err := il.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("lucentc: decoding: %w", err)
	}

	if err := schemaver.Check(prog.SchemaVersion); err != nil {
		return nil, err
	}

	var asm bytes.Buffer

	e := codegen.New(&asm, kernel)
	e.SetLogger(clilog.RegallocLogger{Entry: log.WithField("component", "regalloc")})

	if err := e.Emit(prog); err != nil {
		return nil, err
	}

	return asm.Bytes(), nil
}

// writeAssembly writes asm to outPath, or to stdout when outPath is empty.
func writeAssembly(outPath string, asm []byte) error {
	if outPath == "" {
		_, err := os.Stdout.Write(asm)

		return err
	}

	return os.WriteFile(outPath, asm, 0o644)
}

func compileFile(inputPath, outPath string, kernel target.Kernel, log *logrus.Logger) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("lucentc: reading %s: %w", inputPath, err)
	}

	asm, err := compileToAssembly(raw, kernel, log)
	if err != nil {
		return err
	}

	if err := writeAssembly(outPath, asm); err != nil {
		return fmt.Errorf("lucentc: writing output: %w", err)
	}

	log.Infof("compiled %s", inputPath)

	return nil
}

func runWatch(inputPath, outPath string, kernel target.Kernel, log *logrus.Logger) {
	w, err := watch.NewFSWatcher(inputPath)
	if err != nil {
		log.Error(fmt.Errorf("lucentc: starting watch: %w", err))
		os.Exit(1)
	}

	cache := buildcache.NewLRU(64)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recompile := func() error {
		raw, err := os.ReadFile(inputPath)
		if err != nil {
			return err
		}

		key := buildcache.DigestKey(raw, kernel)

		if artifact, hit := cache.Get(key); hit {
			log.Infof("%s unchanged, using cached compilation", inputPath)

			return writeAssembly(outPath, artifact.Assembly)
		}

		asm, err := compileToAssembly(raw, kernel, log)
		if err != nil {
			return err
		}

		if err := writeAssembly(outPath, asm); err != nil {
			return fmt.Errorf("lucentc: writing output: %w", err)
		}

		log.Infof("compiled %s", inputPath)

		cache.Put(key, buildcache.Artifact{Assembly: asm})

		return nil
	}

	err = watch.Run(ctx, w, recompile, func(err error) { log.Error(err) })
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Fprintln(os.Stderr, "usage: lucentc [flags] <input.il.json>")
	flag.PrintDefaults()
}
