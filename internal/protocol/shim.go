// Package protocol implements spec Component H, the Protocol Shim: the
// git remote-helper line dialogue over stdin/stdout, and the deb://
// URL grammar §6 defines for query-string options.
//
// Grounded on reposurgeon's line-tokenization idiom
// (surgeon/reposurgeon.go's repeated `shlex.Split(line, true)` calls)
// generalized from an interactive command parser to the remote-helper
// protocol's single-word command lines.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	shlex "github.com/anmitsu/go-shlex"

	"gitlab.com/esr/gitdebimport/internal/runctx"
)

// Request describes one `deb://pkg?skip=&trust=&email=` remote URL.
type Request struct {
	Package string
	Skip    []string
	Trust   []string
	Email   map[string]string // key-id -> fallback address
}

// ParseURL parses the URL argument git passes a remote helper, per §6.
// Git's transport-helper convention accepts both the bare
// "deb::<address>" shorthand and a conventional "deb://<address>" URL
// with an empty network location; both name the package as the first
// path segment and carry the same query grammar, so both are parsed
// by hand rather than through net/url's scheme-authority rules (which
// do not model "::").
func ParseURL(raw string) (*Request, error) {
	rest := raw
	switch {
	case strings.HasPrefix(rest, "deb://"):
		rest = rest[len("deb://"):]
	case strings.HasPrefix(rest, "deb::"):
		rest = rest[len("deb::"):]
	default:
		return nil, fmt.Errorf("protocol: unsupported remote url %q, want a deb:// or deb:: address", raw)
	}
	rest = strings.TrimPrefix(rest, "/")

	pkg, rawQuery, _ := strings.Cut(rest, "?")
	if pkg == "" {
		return nil, fmt.Errorf("protocol: empty package name in url %q", raw)
	}

	req := &Request{Package: pkg, Email: map[string]string{}}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("protocol: parsing query of %q: %w", raw, err)
	}
	for _, v := range q["skip"] {
		req.Skip = append(req.Skip, splitComma(v)...)
	}
	for _, v := range q["trust"] {
		req.Trust = append(req.Trust, splitComma(v)...)
	}
	for _, v := range q["email"] {
		for _, pair := range splitComma(v) {
			fields := strings.SplitN(pair, " ", 2)
			if len(fields) != 2 {
				return nil, &runctx.OptionInvalidError{Name: "email", Value: pair}
			}
			req.Email[fields[0]] = fields[1]
		}
	}
	return req, nil
}

func splitComma(s string) []string {
	var out []string
	for _, piece := range strings.Split(s, ",") {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// Shim drives the capabilities/option/list/import dialogue of §4.H.
type Shim struct {
	Ctx    *runctx.RunContext
	Pkg    string
	Remote string
	In     *bufio.Reader
	Out    io.Writer

	Depth     int
	Verbosity int

	imported bool
}

// NewShim wraps in/out for the given package/remote pair.
func NewShim(ctx *runctx.RunContext, pkg, remote string, in io.Reader, out io.Writer) *Shim {
	return &Shim{Ctx: ctx, Pkg: pkg, Remote: remote, In: bufio.NewReader(in), Out: out}
}

// Command is one parsed protocol line.
type Command struct {
	Verb string
	Args []string
}

func readCommand(r *bufio.Reader) (*Command, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return nil, err
	}
	line = strings.TrimRight(line, "\n")
	if line == "" {
		return &Command{Verb: ""}, nil
	}
	fields, err := shlex.Split(line, true)
	if err != nil || len(fields) == 0 {
		return nil, fmt.Errorf("protocol: malformed line %q", line)
	}
	return &Command{Verb: fields[0], Args: fields[1:]}, nil
}

// RunUntilImport drives capabilities/option/list and the start of an
// import batch, returning once an `import <ref>` line arrives (the ref
// is not checked; `list` advertises only refs/heads/<Pkg>). Only the
// first import per process returns ok=true; later ones are drained and
// acknowledged inline. Returns ok=false if the caller ended the session
// (EOF) before importing again.
func (s *Shim) RunUntilImport() (ok bool, err error) {
	for {
		cmd, err := readCommand(s.In)
		if err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
		switch cmd.Verb {
		case "capabilities":
			fmt.Fprintf(s.Out, "*import\n*option\n*refspec refs/heads/*:refs/debian/%s/*\n\n", s.Remote)
		case "option":
			s.handleOption(cmd.Args)
		case "list":
			fmt.Fprintf(s.Out, "? refs/heads/%s\n", s.Pkg)
			fmt.Fprintf(s.Out, "@refs/heads/%s HEAD\n\n", s.Pkg)
		case "import":
			if s.imported {
				s.drainImportBatch()
				fmt.Fprintf(s.Out, "done\n")
				continue
			}
			fmt.Fprintf(s.Out, "feature done\n")
			s.drainImportBatch()
			s.imported = true
			return true, nil
		case "":
			// blank line outside an exchange; ignore
		default:
			fmt.Fprintf(s.Out, "unsupported\n")
		}
	}
}

// drainImportBatch consumes any further `import` lines (git may batch
// more than one ref in a single exchange) up to the terminating blank
// line. It does not print `done`: git fast-import's `done` feature
// means the remote helper's `done` response must come after the
// fast-import stream, not before it, so the caller prints it itself
// once the payload for this batch has been fully written (see
// FinishImport).
func (s *Shim) drainImportBatch() {
	for {
		cmd, err := readCommand(s.In)
		if err != nil || cmd.Verb == "" {
			break
		}
		if cmd.Verb != "import" {
			break
		}
	}
}

// FinishImport prints the `done` line that closes out an import batch
// begun by a true return from RunUntilImport. Call it only after the
// fast-import records for that batch have been written to Out.
func (s *Shim) FinishImport() {
	fmt.Fprintf(s.Out, "done\n")
}

func (s *Shim) handleOption(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(s.Out, "unsupported\n")
		return
	}
	name, value := args[0], args[1]
	switch name {
	case "depth":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			fmt.Fprintf(s.Out, "error %s\n", (&runctx.OptionInvalidError{Name: name, Value: value}).Error())
			return
		}
		s.Depth = n
		fmt.Fprintf(s.Out, "ok\n")
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			fmt.Fprintf(s.Out, "error %s\n", (&runctx.OptionInvalidError{Name: name, Value: value}).Error())
			return
		}
		s.Verbosity = n
		s.Ctx.SetVerbosity(n)
		fmt.Fprintf(s.Out, "ok\n")
	case "progress":
		// §4.H.1: accepted and ignored.
		fmt.Fprintf(s.Out, "ok\n")
	default:
		fmt.Fprintf(s.Out, "unsupported\n")
	}
}
