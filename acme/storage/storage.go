// Package storage manages the files an order persists between runs: the
// order reference, the certificate key pair, the CSR and the issued
// certificate material.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// OldSuffix is appended to a persisted file's name when it is swept aside
// instead of deleted.
const OldSuffix = ".old"

// Paths is the configuration bundle naming where each persisted artifact
// lives. OrderURL, PrivateKey and PublicKey are required. The remaining slots
// are optional: an empty path means the artifact is never written.
type Paths struct {
	// OrderURL is a plain text file holding the remote order's location URL.
	OrderURL string
	// PrivateKey and PublicKey hold the PEM serialized order key pair.
	PrivateKey string
	PublicKey  string
	// CSR holds the PEM serialized signing request submitted at finalization.
	CSR string
	// Certificate holds the issued leaf certificate.
	Certificate string
	// FullChain holds the leaf plus all intermediates.
	FullChain string
	// CABundle holds the issuing CA certificate from the fetched chain.
	CABundle string
}

// Validate checks that the required paths are present.
func (p Paths) Validate() error {
	if p.OrderURL == "" || p.PrivateKey == "" || p.PublicKey == "" {
		return fmt.Errorf("storage: order URL, private key and public key paths are required")
	}
	return nil
}

// all returns every configured path, required slots first.
func (p Paths) all() []string {
	candidates := []string{
		p.OrderURL, p.PrivateKey, p.PublicKey,
		p.CSR, p.Certificate, p.FullChain, p.CABundle,
	}
	var paths []string
	for _, path := range candidates {
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// certBundle returns the configured paths holding issued certificate
// material.
func (p Paths) certBundle() []string {
	var paths []string
	for _, path := range []string{p.Certificate, p.FullChain, p.CABundle} {
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HaveOrderArtifacts reports whether a previous run persisted the artifacts
// needed to recover an order: the order reference and both key pair halves.
func (p Paths) HaveOrderArtifacts() bool {
	return exists(p.OrderURL) && exists(p.PrivateKey) && exists(p.PublicKey)
}

// ReadOrderURL returns the persisted order reference, stripped of
// surrounding whitespace.
func (p Paths) ReadOrderURL() (string, error) {
	raw, err := os.ReadFile(p.OrderURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteOrderURL persists the order reference.
func (p Paths) WriteOrderURL(url string) error {
	return os.WriteFile(p.OrderURL, []byte(url+"\n"), 0o644)
}

// WriteKeyPair persists both PEM serialized halves of the order key pair.
// The private key file is only readable by the owner.
func (p Paths) WriteKeyPair(privPEM, pubPEM []byte) error {
	if err := os.WriteFile(p.PrivateKey, privPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(p.PublicKey, pubPEM, 0o644)
}

// WriteCSR persists the PEM serialized signing request if a CSR slot is
// configured.
func (p Paths) WriteCSR(pemBytes []byte) error {
	if p.CSR == "" {
		return nil
	}
	return os.WriteFile(p.CSR, pemBytes, 0o644)
}

// WriteCertificate persists the leaf certificate if a certificate slot is
// configured.
func (p Paths) WriteCertificate(pemBytes []byte) error {
	if p.Certificate == "" {
		return nil
	}
	return os.WriteFile(p.Certificate, pemBytes, 0o644)
}

// WriteFullChain persists the full certificate chain if a full-chain slot is
// configured.
func (p Paths) WriteFullChain(pemBytes []byte) error {
	if p.FullChain == "" {
		return nil
	}
	return os.WriteFile(p.FullChain, pemBytes, 0o644)
}

// WriteCABundle persists the issuing CA certificate if a CA-bundle slot is
// configured.
func (p Paths) WriteCABundle(pemBytes []byte) error {
	if p.CABundle == "" {
		return nil
	}
	return os.WriteFile(p.CABundle, pemBytes, 0o644)
}

// CertificateSource returns the path holding issued certificate material to
// operate on, preferring the dedicated certificate slot and falling back to
// the full chain. The second return is false when neither slot is configured.
func (p Paths) CertificateSource() (string, bool) {
	if p.Certificate != "" {
		return p.Certificate, true
	}
	if p.FullChain != "" {
		return p.FullChain, true
	}
	return "", false
}

func renameOld(path string) error {
	err := os.Rename(path, path+OldSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SweepAll renames every persisted file to its ".old" form. Used when
// a recovered order no longer matches the requested identifier set: nothing
// is destroyed, and a fresh order starts from a clean slate.
func (p Paths) SweepAll() error {
	for _, path := range p.all() {
		if err := renameOld(path); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes every persisted file. Used when the persisted order
// reference is not even a well-formed URL and nothing is worth keeping.
func (p Paths) RemoveAll() error {
	for _, path := range p.all() {
		if err := remove(path); err != nil {
			return err
		}
	}
	return nil
}

// RemoveStale deletes the order reference, public key and CSR while leaving
// the private key and any issued certificate material on disk. Used when
// recovery fails for reasons unrelated to the order's validity: a previously
// issued certificate must survive a transient recovery failure.
func (p Paths) RemoveStale() error {
	for _, path := range []string{p.OrderURL, p.PublicKey, p.CSR} {
		if path == "" {
			continue
		}
		if err := remove(path); err != nil {
			return err
		}
	}
	return nil
}

// SweepInvalid handles an order the server reports as invalid: the issued
// certificate material and the private key are renamed to their ".old" forms
// for operator recovery, and the remaining artifacts are deleted so a fresh
// order starts clean.
func (p Paths) SweepInvalid() error {
	for _, path := range append(p.certBundle(), p.PrivateKey) {
		if err := renameOld(path); err != nil {
			return err
		}
	}
	return p.RemoveStale()
}
