package runctx

import "fmt"

// Classified error kinds per spec §7. Each type answers Unrecoverable(),
// reporting whether its kind is fatal or warn-and-continue. The protocol
// shim and cmd/git-remote-deb do not consult it: any error that reaches
// run() ends the process with a non-zero exit.

// MissingSourceError is raised when the snapshot archive has no srcfiles
// for a version (404). Warn-class: the version is dropped, the run
// continues.
type MissingSourceError struct {
	Version string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("no source found for version %s", e.Version)
}

// Unrecoverable is always false: a missing version is warned and dropped.
func (e *MissingSourceError) Unrecoverable() bool { return false }

// ArchiveInconsistencyError covers hash mismatches, heterogeneous
// FileInfos for one hash, and multiple distinct dsc cleartexts for one
// version. Fatal-class.
type ArchiveInconsistencyError struct {
	Reason string
}

func (e *ArchiveInconsistencyError) Error() string {
	return fmt.Sprintf("archive inconsistency: %s", e.Reason)
}

func (e *ArchiveInconsistencyError) Unrecoverable() bool { return true }

// SignatureError covers missing keyrings, bad signatures and unknown keys
// with no user override. Fatal-class.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature error: %s", e.Reason)
}

func (e *SignatureError) Unrecoverable() bool { return true }

// IdentityMalformedError covers a signer user-id that is neither
// "Name <email>" nor a bare email, and was not repaired by an email=
// override. Fatal-class.
type IdentityMalformedError struct {
	UserID string
}

func (e *IdentityMalformedError) Error() string {
	return fmt.Sprintf("malformed identity %q: not Name <email>, bare email, or repaired", e.UserID)
}

func (e *IdentityMalformedError) Unrecoverable() bool { return true }

// ChangelogBrokenError covers an unparseable changelog, or one whose
// encoding could not be recovered by byte-level sniffing. Warn-class for
// a single version (§7 policy); the caller decides whether to drop the
// version or escalate.
type ChangelogBrokenError struct {
	Version string
	Reason  string
}

func (e *ChangelogBrokenError) Error() string {
	return fmt.Sprintf("changelog broken for %s: %s", e.Version, e.Reason)
}

func (e *ChangelogBrokenError) Unrecoverable() bool { return false }

// GraphLoopError is raised when a changelog predecessor chain revisits a
// version already marked done. Fatal-class: the whole run aborts.
type GraphLoopError struct {
	Version string
}

func (e *GraphLoopError) Error() string {
	return fmt.Sprintf("changelog loop detected at version %s", e.Version)
}

func (e *GraphLoopError) Unrecoverable() bool { return true }

// OptionInvalidError covers a non-positive depth or any other malformed
// remote-helper option value. Fatal-class.
type OptionInvalidError struct {
	Name, Value string
}

func (e *OptionInvalidError) Error() string {
	return fmt.Sprintf("invalid value %q for option %q", e.Value, e.Name)
}

func (e *OptionInvalidError) Unrecoverable() bool { return true }

// Unrecoverable reports whether err is one of the classified kinds above
// and, if so, whether that kind is fatal. Errors outside the taxonomy
// (plain network/IO failures) are treated as unrecoverable per §7's
// "transient network failures propagate as fatal" policy.
func Unrecoverable(err error) bool {
	type classified interface {
		Unrecoverable() bool
	}
	if c, ok := err.(classified); ok {
		return c.Unrecoverable()
	}
	return err != nil
}
