// Package clilog provides the CLI tools' shared logging and version
// reporting, adapted from the teacher's internal/cli.Logger/
// VersionInfo: same verbose/debug toggles and the same version-info
// struct shape, but backed by logrus's structured, leveled logger
// rather than a hand-rolled Printf wrapper, matching how the rest of
// the example corpus (moby-moby) does CLI logging.
package clilog

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Version identifies this build of the tool family.
const Version = "0.1.0"

// VersionInfo is the structured payload behind --version --json.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// CollectVersionInfo gathers the running build's version facts.
func CollectVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion writes version information for toolName to stdout,
// either as a short human line or, if asJSON, a structured payload.
func PrintVersion(toolName string, asJSON bool) {
	info := CollectVersionInfo()

	if asJSON {
		data, err := json.MarshalIndent(map[string]any{"tool": toolName, "version_info": info}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "lucentc: failed to marshal version info: %v\n", err)
		} else {
			fmt.Println(string(data))
			return
		}
	}

	fmt.Printf("%s v%s (%s, %s/%s)\n", toolName, info.Version, info.GoVersion, info.Platform, info.Arch)
}

// New builds a logrus logger configured per the CLI's verbosity flags.
// debug implies verbose. Output goes to stderr so stdout stays free
// for the compiled assembly text.
func New(verbose, debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch {
	case debug:
		l.SetLevel(logrus.DebugLevel)
	case verbose:
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.WarnLevel)
	}

	return l
}

// RegallocLogger adapts a *logrus.Entry to internal/regalloc.Logger.
type RegallocLogger struct {
	Entry *logrus.Entry
}

func (r RegallocLogger) Debugf(format string, args ...any) { r.Entry.Debugf(format, args...) }
