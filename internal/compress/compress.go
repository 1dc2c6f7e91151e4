// Package compress provides a uniform reader/writer abstraction over the
// four codecs repodata artifacts are stored in: none, gzip, bzip2, and xz.
// Read mode supports auto-detection (suffix first, then MIME sniffing);
// write mode always requires an explicit codec.
package compress

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	bz2 "github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/holocm/repoindex/internal/checksum"
)

// Codec identifies a compression format.
type Codec uint8

const (
	None Codec = iota
	Gzip
	Bzip2
	XZ
	// AutoDetect is only legal for OpenRead; it triggers suffix-then-sniff
	// detection instead of naming a codec directly.
	AutoDetect
)

func (c Codec) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case XZ:
		return "xz"
	case AutoDetect:
		return "auto"
	default:
		return "none"
	}
}

// Suffix returns the conventional file suffix for this codec ("" for None).
func (c Codec) Suffix() string {
	switch c {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case XZ:
		return ".xz"
	default:
		return ""
	}
}

// UnknownCompressionError is returned for a codec value this package does
// not recognize, or for AutoDetect passed to a write operation.
type UnknownCompressionError struct {
	Codec Codec
}

func (e *UnknownCompressionError) Error() string {
	return fmt.Sprintf("unknown or unsupported compression codec: %v", e.Codec)
}

// MalformedStreamError wraps a codec-specific decode failure.
type MalformedStreamError struct {
	Codec Codec
	Err   error
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("malformed %v stream: %v", e.Codec, e.Err)
}

func (e *MalformedStreamError) Unwrap() error { return e.Err }

// suffixTable is consulted before any byte sniffing. Order matters only in
// that longer/more specific suffixes should be listed ahead of ambiguous
// ones; ".xml" deliberately resolves to None even if the file's bytes look
// compressed, matching createrepo_c's historical precedence.
var suffixTable = []struct {
	suffix string
	codec  Codec
}{
	{".gz", Gzip},
	{".gzip", Gzip},
	{".gunzip", Gzip},
	{".bz2", Bzip2},
	{".bzip2", Bzip2},
	{".xz", XZ},
	{".xml", None},
}

// DetectBySuffix resolves a codec from a file name suffix alone. The second
// return value is false if no suffix rule matched.
func DetectBySuffix(path string) (Codec, bool) {
	lower := strings.ToLower(path)
	for _, entry := range suffixTable {
		if strings.HasSuffix(lower, entry.suffix) {
			return entry.codec, true
		}
	}
	return None, false
}

// detectByContent sniffs the first bytes of a stream to guess its codec.
// It never returns an error; bytes it doesn't recognize are reported as
// None, consistent with "plain XML" being the fallback case.
func detectByContent(head []byte) Codec {
	switch {
	case len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b:
		return Gzip
	case len(head) >= 3 && head[0] == 'B' && head[1] == 'Z' && head[2] == 'h':
		return Bzip2
	case len(head) >= 6 && bytes.Equal(head[:6], []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}):
		return XZ
	default:
		if http.DetectContentType(head) == "application/x-gzip" {
			return Gzip
		}
		return None
	}
}

// resolveRead decides the effective codec for an OpenRead call: suffix
// first, falling back to content sniffing of the first 512 bytes only when
// no suffix rule matched at all.
func resolveRead(path string, requested Codec, peek func() ([]byte, error)) (Codec, error) {
	if requested != AutoDetect {
		return requested, nil
	}
	if codec, ok := DetectBySuffix(path); ok {
		return codec, nil
	}
	head, err := peek()
	if err != nil {
		return None, err
	}
	return detectByContent(head), nil
}

// Reader wraps a decompressing io.Reader together with the content-stat
// hook: as bytes are read by the caller, they are also fed through an
// incremental checksum and size counter so the decompressed ("open") size
// and checksum are available once the caller has drained the stream.
type Reader struct {
	io.Reader
	closer    io.Closer
	underlying io.Closer
	digest    *checksum.Digest
	openSize  int64
	codec     Codec
}

// OpenSize returns the number of decompressed bytes produced so far.
func (r *Reader) OpenSize() int64 { return r.openSize }

// OpenChecksum finalizes the content-stat digest. It should only be called
// after the caller has read the stream to EOF.
func (r *Reader) OpenChecksum() string {
	if r.digest == nil {
		return ""
	}
	return r.digest.Finalize()
}

// Codec reports the codec this reader ended up using (useful after
// AutoDetect was requested).
func (r *Reader) Codec() Codec { return r.codec }

func (r *Reader) Close() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
	}
	if r.underlying != nil {
		if uerr := r.underlying.Close(); err == nil {
			err = uerr
		}
	}
	return err
}

type statReader struct {
	src    io.Reader
	digest *checksum.Digest
	size   *int64
}

func (s *statReader) Read(p []byte) (int, error) {
	n, err := s.src.Read(p)
	if n > 0 {
		s.digest.Update(p[:n])
		*s.size += int64(n)
	}
	return n, err
}

// OpenReadFile opens path for reading with the given codec (or AutoDetect),
// returning a Reader with the content-stat hook wired to algo.
func OpenReadFile(path string, requested Codec, algo checksum.Algorithm) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	peek := func() ([]byte, error) {
		buf := make([]byte, 512)
		n, rerr := f.Read(buf)
		if rerr != nil && rerr != io.EOF {
			return nil, rerr
		}
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, serr
		}
		return buf[:n], nil
	}

	codec, err := resolveRead(path, requested, peek)
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := newReader(f, codec)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.underlying = f
	return wireContentStat(r, algo), nil
}

// OpenRead wraps an already-open io.Reader (no suffix available, so
// AutoDetect falls back entirely to content sniffing).
func OpenRead(src io.Reader, requested Codec, algo checksum.Algorithm) (*Reader, error) {
	codec := requested
	var buffered io.Reader = src
	if requested == AutoDetect {
		head := make([]byte, 512)
		n, err := io.ReadFull(src, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("compress: %w", err)
		}
		head = head[:n]
		codec = detectByContent(head)
		buffered = io.MultiReader(bytes.NewReader(head), src)
	}

	r, err := newReader(buffered, codec)
	if err != nil {
		return nil, err
	}
	return wireContentStat(r, algo), nil
}

func wireContentStat(r *Reader, algo checksum.Algorithm) *Reader {
	if algo == "" {
		return r
	}
	d, err := checksum.New(algo)
	if err != nil {
		return r
	}
	inner := r.Reader
	r.digest = d
	r.Reader = &statReader{src: inner, digest: d, size: &r.openSize}
	return r
}

func newReader(src io.Reader, codec Codec) (*Reader, error) {
	switch codec {
	case None:
		return &Reader{Reader: src, codec: codec}, nil
	case Gzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, &MalformedStreamError{Codec: Gzip, Err: err}
		}
		return &Reader{Reader: gz, closer: gz, codec: codec}, nil
	case Bzip2:
		// stdlib compress/bzip2 only supports decoding, which is all the
		// read path ever needs.
		return &Reader{Reader: bzip2.NewReader(src), codec: codec}, nil
	case XZ:
		xr, err := xz.NewReader(src)
		if err != nil {
			return nil, &MalformedStreamError{Codec: XZ, Err: err}
		}
		return &Reader{Reader: xr, codec: codec}, nil
	default:
		return nil, &UnknownCompressionError{Codec: codec}
	}
}

// Writer wraps a compressing io.WriteCloser. AutoDetect is illegal here;
// OpenWriteFile/OpenWrite require an explicit codec.
type Writer struct {
	io.Writer
	closer     io.Closer
	underlying io.Closer
	codec      Codec
}

func (w *Writer) Close() error {
	var err error
	if w.closer != nil {
		err = w.closer.Close()
	}
	if w.underlying != nil {
		if uerr := w.underlying.Close(); err == nil {
			err = uerr
		}
	}
	return err
}

// OpenWriteFile creates path and wraps it with the given codec's writer.
func OpenWriteFile(path string, codec Codec) (*Writer, error) {
	if codec == AutoDetect {
		return nil, &UnknownCompressionError{Codec: codec}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	w, err := newWriter(f, codec)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.underlying = f
	return w, nil
}

// OpenWrite wraps an already-open io.Writer with the given codec's writer.
func OpenWrite(dst io.Writer, codec Codec) (*Writer, error) {
	if codec == AutoDetect {
		return nil, &UnknownCompressionError{Codec: codec}
	}
	return newWriter(dst, codec)
}

func newWriter(dst io.Writer, codec Codec) (*Writer, error) {
	switch codec {
	case None:
		return &Writer{Writer: dst, codec: codec}, nil
	case Gzip:
		gz := gzip.NewWriter(dst)
		return &Writer{Writer: gz, closer: gz, codec: codec}, nil
	case Bzip2:
		bw, err := bz2.NewWriter(dst, nil)
		if err != nil {
			return nil, &MalformedStreamError{Codec: Bzip2, Err: err}
		}
		return &Writer{Writer: bw, closer: bw, codec: codec}, nil
	case XZ:
		xw, err := xz.NewWriter(dst)
		if err != nil {
			return nil, &MalformedStreamError{Codec: XZ, Err: err}
		}
		return &Writer{Writer: xw, closer: xw, codec: codec}, nil
	default:
		return nil, &UnknownCompressionError{Codec: codec}
	}
}

// ParseCompressType maps the --compress-type flag vocabulary to a Codec.
func ParseCompressType(label string) (Codec, error) {
	switch strings.ToLower(label) {
	case "", "gz", "gzip":
		return Gzip, nil
	case "bz2", "bzip2":
		return Bzip2, nil
	case "xz":
		return XZ, nil
	case "none", "plain":
		return None, nil
	default:
		return None, fmt.Errorf("compress: unrecognized --compress-type %q", label)
	}
}

// WithSuffix appends this codec's conventional suffix to a base file name.
func WithSuffix(base string, codec Codec) string {
	return base + codec.Suffix()
}

// JoinPath is a small helper for building output file names consistently
// across the manifest and pipeline packages.
func JoinPath(dir, name string) string {
	return filepath.Join(dir, name)
}
