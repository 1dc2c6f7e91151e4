// Package checksum implements the incremental and one-shot digest
// operations used throughout the repository: package checksums, XML/SQLite
// manifest checksums, and the open-checksum computed while decompressing.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm names match the wire vocabulary used in repomd.xml and
// primary.xml checksum "type" attributes.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA224 Algorithm = "sha224"
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

// UnknownAlgorithmError is returned when a checksum label does not resolve
// to any of the supported algorithms.
type UnknownAlgorithmError struct {
	Label string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("unknown checksum algorithm: %q", e.Label)
}

// ParseAlgorithm normalizes a checksum label from the wire vocabulary. The
// legacy alias "sha" resolves to sha1.
func ParseAlgorithm(label string) (Algorithm, error) {
	switch label {
	case "md5":
		return MD5, nil
	case "sha", "sha1":
		return SHA1, nil
	case "sha224":
		return SHA224, nil
	case "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	default:
		return "", &UnknownAlgorithmError{Label: label}
	}
}

// WireLabel returns the label this algorithm serializes as. sha1 always
// serializes as "sha" for compatibility with legacy repomd readers that
// never learned any other name for it.
func (a Algorithm) WireLabel() string {
	if a == SHA1 {
		return "sha"
	}
	return string(a)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, &UnknownAlgorithmError{Label: string(a)}
	}
}

// Digest is an incremental hash with a hex-encoded result.
type Digest struct {
	algo Algorithm
	h    hash.Hash
}

// New creates an incremental digest for the given algorithm.
func New(algo Algorithm) (*Digest, error) {
	h, err := algo.newHash()
	if err != nil {
		return nil, err
	}
	return &Digest{algo: algo, h: h}, nil
}

// Update feeds more bytes into the digest.
func (d *Digest) Update(p []byte) {
	d.h.Write(p)
}

// Write implements io.Writer so a Digest can be used as the destination of
// an io.Copy or wrapped in an io.MultiWriter alongside the real output.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Finalize returns the hex-encoded digest computed so far. The digest
// remains usable; callers that want a fresh digest should create a new one.
func (d *Digest) Finalize() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// DigestBytes is a one-shot convenience for hashing an in-memory buffer.
func DigestBytes(algo Algorithm, data []byte) (string, error) {
	d, err := New(algo)
	if err != nil {
		return "", err
	}
	d.Update(data)
	return d.Finalize(), nil
}

// DigestFile is a one-shot convenience for hashing a file's full contents.
func DigestFile(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	defer f.Close()

	d, err := New(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return d.Finalize(), nil
}
