// Package dscpkg implements spec Component C, the Source Package Model:
// parsing a dsc cleartext, classifying native vs. non-native, and
// enforcing the component filename discipline §4.C defines.
//
// Grounded on other_examples/4980c96c_cinello-go-debian__control-dsc.go.go
// (the DSC struct shape: Source, Version, Files) and
// other_examples/8a89ee03_google-oss-rebuild__pkg-rebuild-debian-infer.go.go
// (orig/debian/native classification by filename regex).
package dscpkg

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"pault.ag/go/debian/control"

	debver "gitlab.com/esr/gitdebimport/internal/version"
)

// SigWitness is one dsc FileInfo's signature metadata, attached after the
// Signature Gate (Component B) verifies it. It is a narrow view onto
// whatever sigcheck.Result the caller produced, kept here to avoid a
// dependency from dscpkg onto sigcheck's HTTP/keyring plumbing.
type SigWitness struct {
	Archive     string
	Path        string
	Name        string
	SignerName  string
	SignerEmail string
	KeyID       string
	KeyringName string
	Good        bool // true iff canonical keyring + valid signature
	SigType     string
	Timestamp   int64 // unix seconds
	RawDSC      []byte // the exact signed dsc file bytes, for the upload tag body
}

// SourcePackage is one record per distinct version (spec §3).
type SourcePackage struct {
	Version   debver.Version
	Witnesses []SigWitness // one per dsc FileInfo witnessing this version
	Cleartext []byte       // canonical dsc cleartext bytes

	Source string // dsc Source: field
	Files  []string

	Native bool

	OrigName   string   // non-native only
	CompNames  []string // non-native only, orig-<subname> components
	DeltaName  string   // non-native only, the .diff/.debian component
	NativeName string   // native only, the single tarball

	MalformedNative    bool // native version string contains '-'
	MalformedNonNative bool // non-native with no debian revision

	// Unpacked tree state, filled in by internal/unpack.
	PatchedTree  string
	UpstreamTree string
	UpstreamMtime int64
	OrigKey       string // dedup key: joined component hashes

	// prevVer is filled in by internal/history once the changelog has
	// been consulted; it is the nearest changelog-declared ancestor
	// that also exists in the working version set.
	PrevVer string
	HasPrev bool
}

var (
	nativeNameRE = regexp.MustCompile(`^([^/]+)_([^/]+)\.tar\.([a-zA-Z0-9]+)$`)
	// orig and orig-<comp> tarballs always carry a ".tar.<ext>" suffix
	// (".orig.tar.gz", ".orig-extra.tar.xz", ...); only the 1.0-format
	// debian delta lacks the tar layer (a bare ".diff.gz").
	origNameRE     = regexp.MustCompile(`^([^/]+)_([^/]+)\.orig\.tar\.([a-zA-Z0-9]+)$`)
	origCompNameRE = regexp.MustCompile(`^([^/]+)_([^/]+)\.orig-([^/.]+)\.tar\.([a-zA-Z0-9]+)$`)
	diffNameRE     = regexp.MustCompile(`^([^/]+)_([^/]+)\.diff\.([a-zA-Z0-9]+)$`)
	debianTarRE    = regexp.MustCompile(`^([^/]+)_([^/]+)\.debian\.tar\.([a-zA-Z0-9]+)$`)
)

func isDeltaName(name string) bool {
	return diffNameRE.MatchString(name) || debianTarRE.MatchString(name)
}

// Parse builds a SourcePackage from a dsc cleartext and classifies it
// per §4.C.
func Parse(v debver.Version, cleartext []byte) (*SourcePackage, error) {
	var dsc struct {
		control.Paragraph
		Source string
		Files  []control.MD5FileHash `control:"Files" delim:"\n" strip:"\n\r\t "`
	}
	if err := control.Unmarshal(&dsc, bytes.NewReader(cleartext)); err != nil {
		return nil, fmt.Errorf("dscpkg: parsing dsc control stanza: %w", err)
	}

	sp := &SourcePackage{
		Version:   v,
		Cleartext: cleartext,
		Source:    dsc.Source,
	}
	for _, f := range dsc.Files {
		name := strings.TrimSpace(f.Filename)
		if name == "" {
			continue
		}
		if strings.Contains(name, "/") {
			return nil, fmt.Errorf("dscpkg: component name %q contains '/'", name)
		}
		sp.Files = append(sp.Files, name)
	}

	sp.Native = len(sp.Files) == 1
	if sp.Native {
		sp.NativeName = sp.Files[0]
		if !nativeNameRE.MatchString(sp.NativeName) {
			return nil, fmt.Errorf("dscpkg: malformed native component name %q", sp.NativeName)
		}
		if strings.Contains(v.WithoutEpoch(), "-") {
			sp.MalformedNative = true
		}
		return sp, nil
	}

	var unrecognized []string
	for _, name := range sp.Files {
		switch {
		case origNameRE.MatchString(name):
			if sp.OrigName != "" {
				return nil, fmt.Errorf("dscpkg: multiple orig components: %s and %s", sp.OrigName, name)
			}
			sp.OrigName = name
		case origCompNameRE.MatchString(name):
			sp.CompNames = append(sp.CompNames, name)
		case isDeltaName(name):
			sp.DeltaName = name
		default:
			unrecognized = append(unrecognized, name)
		}
		// An unrecognized name is left unclassified here; it is only an
		// error if it's still unaccounted for once the revision-less
		// delta fallback below has had a chance to claim it.
	}
	if sp.OrigName == "" {
		return nil, fmt.Errorf("dscpkg: no orig component found among %v", sp.Files)
	}
	if sp.DeltaName != "" && len(unrecognized) > 0 {
		return nil, fmt.Errorf("dscpkg: unrecognized component names %v", unrecognized)
	}
	if sp.DeltaName == "" {
		// §9 Open Question: a revision-less non-native package has no
		// name matching the delta pattern. The remaining non-orig,
		// non-component file (there must be exactly one) is treated as
		// the delta, flagged malformed per the decision recorded in
		// DESIGN.md.
		var rest []string
		for _, name := range sp.Files {
			if name == sp.OrigName {
				continue
			}
			if origCompNameRE.MatchString(name) {
				continue
			}
			rest = append(rest, name)
		}
		if len(rest) != 1 {
			return nil, fmt.Errorf("dscpkg: could not identify debian delta among %v", sp.Files)
		}
		sp.DeltaName = rest[0]
		sp.MalformedNonNative = true
	}
	return sp, nil
}

// Describe renders a one-line classification summary, used in warning
// messages. Grounded on reposurgeon's VCS.String() verbose-dump idiom.
func (sp *SourcePackage) Describe() string {
	if sp.Native {
		flag := ""
		if sp.MalformedNative {
			flag = " (malformed: version contains '-')"
		}
		return fmt.Sprintf("%s: native, component %s%s", sp.Version, sp.NativeName, flag)
	}
	flag := ""
	if sp.MalformedNonNative {
		flag = " (malformed: no debian revision)"
	}
	return fmt.Sprintf("%s: non-native, orig=%s delta=%s comps=%v%s",
		sp.Version, sp.OrigName, sp.DeltaName, sp.CompNames, flag)
}
