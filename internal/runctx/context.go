// Package runctx holds the explicit run context this tool threads through
// the history builder and emitter, replacing the module-scope Control
// struct the teacher (reposurgeon) keeps at package level.
package runctx

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Verbosity bits, gated the same way reposurgeon's logmask gates its
// logEnable bits.
const (
	LogWarn uint = 1 << iota
	LogDebug
	LogBaton
)

// RunContext carries everything that reposurgeon's Control kept at module
// scope: the package name, remote alias, skip set, email fallbacks and
// trusted key-ids for one run of the remote helper.
type RunContext struct {
	Package string
	Remote  string

	Skip  map[string]bool
	Trust []string // 16-hex key-ids exported into the ephemeral keyring
	Email map[string]string

	CacheDir string
	TempDir  string

	logmask uint
	logfp   io.Writer
	logger  *log.Logger

	counter int
}

// New builds a RunContext for the given package/remote pair with an
// empty query configuration; the caller fills in Skip, Trust, Email,
// CacheDir and TempDir from the deb:// URL and the environment.
func New(pkg, remote string) *RunContext {
	ctx := &RunContext{
		Package: pkg,
		Remote:  remote,
		Skip:    map[string]bool{},
		Email:   map[string]string{},
		logmask: LogWarn,
		logfp:   os.Stderr,
	}
	ctx.logger = log.New(ctx.logfp, "", 0)
	return ctx
}

// SetVerbosity clamps the warn/debug bits per §4.H's "option verbosity".
func (ctx *RunContext) SetVerbosity(level int) {
	switch {
	case level <= 0:
		ctx.logmask = 0
	case level == 1:
		ctx.logmask = LogWarn
	default:
		ctx.logmask = LogWarn | LogDebug | LogBaton
	}
}

func (ctx *RunContext) enabled(bits uint) bool {
	return ctx.logmask&bits != 0
}

// DebugEnabled reports whether the debug bit is set, used by the emitter
// to decide whether to print its --stats trailer (§4.G.1).
func (ctx *RunContext) DebugEnabled() bool {
	return ctx.enabled(LogDebug)
}

// Warnf logs a continuable diagnostic. Grounded on reposurgeon's croak,
// but never sets an abort flag: §7's policy is that warn-class errors let
// the run continue.
func (ctx *RunContext) Warnf(format string, args ...interface{}) {
	if !ctx.enabled(LogWarn) {
		return
	}
	ctx.logLine("warn", format, args...)
}

// Debugf logs a debug-only diagnostic.
func (ctx *RunContext) Debugf(format string, args ...interface{}) {
	if !ctx.enabled(LogDebug) {
		return
	}
	ctx.logLine("debug", format, args...)
}

func (ctx *RunContext) logLine(level, format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	ctx.logger.Printf("%s gitdebimport[%s]: %s", time.Now().UTC().Format(time.RFC3339), level, content)
	ctx.counter++
}

// LogCount returns the number of lines logged so far, for tests.
func (ctx *RunContext) LogCount() int {
	return ctx.counter
}
