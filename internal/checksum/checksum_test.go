package checksum

import (
	"errors"
	"testing"
)

func TestParseAlgorithmAliases(t *testing.T) {
	cases := map[string]Algorithm{
		"md5":    MD5,
		"sha":    SHA1,
		"sha1":   SHA1,
		"sha224": SHA224,
		"sha256": SHA256,
		"sha384": SHA384,
		"sha512": SHA512,
	}
	for label, want := range cases {
		got, err := ParseAlgorithm(label)
		if err != nil {
			t.Fatalf("ParseAlgorithm(%q): %v", label, err)
		}
		if got != want {
			t.Errorf("ParseAlgorithm(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestParseAlgorithmUnknown(t *testing.T) {
	_, err := ParseAlgorithm("crc32")
	if err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
	var uae *UnknownAlgorithmError
	if !errors.As(err, &uae) {
		t.Fatalf("expected UnknownAlgorithmError, got %T", err)
	}
}

func TestWireLabelSHA1RoundTrip(t *testing.T) {
	if SHA1.WireLabel() != "sha" {
		t.Errorf("SHA1.WireLabel() = %q, want %q", SHA1.WireLabel(), "sha")
	}
	if SHA256.WireLabel() != "sha256" {
		t.Errorf("SHA256.WireLabel() = %q, want %q", SHA256.WireLabel(), "sha256")
	}
}

func TestDigestBytesKnownVector(t *testing.T) {
	// md5("") = d41d8cd98f00b204e9800998ecf8427e
	got, err := DigestBytes(MD5, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "d41d8cd98f00b204e9800998ecf8427e"
	if got != want {
		t.Errorf("DigestBytes(MD5, \"\") = %q, want %q", got, want)
	}
}

func TestDigestIncrementalMatchesOneShot(t *testing.T) {
	data := []byte("super_kernel-6.0.1-2.x86_64.rpm")
	oneShot, err := DigestBytes(SHA256, data)
	if err != nil {
		t.Fatal(err)
	}

	d, err := New(SHA256)
	if err != nil {
		t.Fatal(err)
	}
	d.Update(data[:10])
	d.Update(data[10:])
	if got := d.Finalize(); got != oneShot {
		t.Errorf("incremental digest = %q, want %q", got, oneShot)
	}
}
