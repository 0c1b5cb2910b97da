// Package sigcheck implements spec Component B, the Signature Gate:
// verifying a detached-clearsigned dsc against a set of keyrings and
// reporting signer identity, key-id, keyring of origin, signature
// timestamp, status and the cleartext payload.
//
// Grounded on golang.org/x/crypto/openpgp's clearsign/packet packages
// (already in the teacher's require block) and on the signing half of
// the same library used in paultag-go-archive/openpgp.go — verification
// is the dual operation of that file's Sign call.
package sigcheck

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"
)

// Keyring is one named, loaded keyring (e.g. "debian-keyring" or
// "local" for a user-trusted ephemeral ring built from trust=<kid>).
type Keyring struct {
	Name    string
	Entity  openpgp.EntityList
}

// LoadKeyringFile reads a .gpg keyring file into a named Keyring.
func LoadKeyringFile(name, path string) (*Keyring, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadKeyringBytes(name, data)
}

// LoadKeyringBytes builds a named Keyring from already-read bytes, used
// for the trust=<kid> ephemeral keyring built from a `gpg --export`
// subprocess rather than a file on disk.
func LoadKeyringBytes(name string, data []byte) (*Keyring, error) {
	entities, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		// Keyrings are also commonly armored.
		entities, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("sigcheck: reading keyring %s: %w", name, err)
		}
	}
	return &Keyring{Name: name, Entity: entities}, nil
}

// Result is what the Signature Gate reports for one verified dsc.
type Result struct {
	SignerName  string
	SignerEmail string
	KeyID       string
	KeyringName string
	Timestamp   time.Time
	Good        bool // true iff verified against the canonical keyring
	SigType     string
	Cleartext   []byte
}

var useridRE = regexp.MustCompile(`^(.*?)\s*<([^<>]+)>\s*$`)

// Verify checks a detached-clearsigned dsc byte stream against the
// supplied keyrings, trying each in order. The first keyring whose
// entity list successfully verifies the signature wins; its name is
// recorded as KeyringName and Good is true only when that keyring is the
// canonical one named canonicalKeyring.
func Verify(dscBytes []byte, keyrings []*Keyring, canonicalKeyring string) (*Result, error) {
	block, _ := clearsign.Decode(dscBytes)
	if block == nil {
		return nil, fmt.Errorf("sigcheck: not a clearsigned message")
	}
	sigBody, err := ioutil.ReadAll(block.ArmoredSignature.Body)
	if err != nil {
		return nil, fmt.Errorf("sigcheck: reading signature body: %w", err)
	}

	var lastErr error
	for _, kr := range keyrings {
		signer, err := openpgp.CheckDetachedSignature(
			kr.Entity, bytes.NewReader(block.Bytes), bytes.NewReader(sigBody))
		if err != nil {
			lastErr = err
			continue
		}
		res := &Result{
			Cleartext:   block.Plaintext,
			KeyringName: kr.Name,
			Good:        kr.Name == canonicalKeyring,
			SigType:     "GOODSIG",
			Timestamp:   signatureTimestamp(bytes.NewReader(sigBody)),
		}
		if signer.PrimaryKey != nil {
			res.KeyID = fmt.Sprintf("%X", signer.PrimaryKey.KeyId)
		}
		name, email, err := identityOf(signer)
		if err != nil {
			return res, &IdentityError{KeyID: res.KeyID, Err: err}
		}
		res.SignerName = name
		res.SignerEmail = email
		return res, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("sigcheck: no keyring could verify signature")
	}
	return nil, &UnknownSignatureError{Err: lastErr}
}

// UnknownSignatureError wraps a verification failure against every
// supplied keyring — §7's "unknown key with no user override" case.
type UnknownSignatureError struct {
	Err error
}

func (e *UnknownSignatureError) Error() string {
	return fmt.Sprintf("sigcheck: signature not verifiable with any supplied keyring: %v", e.Err)
}

func (e *UnknownSignatureError) Unwrap() error { return e.Err }

// IdentityError reports a verified signature whose user-id could not be
// split into Name/email — the caller (Component A) tries an email=<kid>
// override before giving up with an IdentityMalformedError.
type IdentityError struct {
	KeyID string
	Err   error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("sigcheck: identity for key %s: %v", e.KeyID, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// signatureTimestamp parses the signature packet on its own (the
// openpgp.CheckDetachedSignature call above only returns the signing
// entity) to recover the creation time used as the upload tag's tagger
// timestamp.
func signatureTimestamp(body io.Reader) time.Time {
	pkt, err := packet.Read(body)
	if err != nil {
		return time.Time{}
	}
	if sig, ok := pkt.(*packet.Signature); ok && sig.CreationTime.Unix() > 0 {
		return sig.CreationTime
	}
	return time.Time{}
}

// identityOf extracts a Name/email pair from an entity's user-ids,
// trying "Name <email>" then a bare email address per §7's
// identity-malformed taxonomy. Callers that need the email= override
// apply it themselves when this returns an error.
func identityOf(entity *openpgp.Entity) (name, email string, err error) {
	for _, uid := range entity.Identities {
		if m := useridRE.FindStringSubmatch(uid.Name); m != nil {
			return m[1], m[2], nil
		}
		if strings.Contains(uid.Name, "@") && !strings.Contains(uid.Name, " ") {
			return uid.Name, uid.Name, nil
		}
	}
	return "", "", fmt.Errorf("sigcheck: no parseable user-id among %d identities", len(entity.Identities))
}

// ApplyEmailOverride repairs a Result whose identity was unparseable by
// supplying a fallback address for the given key-id (§6 "email=<kid>
// <addr>").
func ApplyEmailOverride(res *Result, email string) {
	res.SignerEmail = email
	if res.SignerName == "" {
		res.SignerName = email
	}
}
