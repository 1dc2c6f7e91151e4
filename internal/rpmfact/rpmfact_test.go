package rpmfact

import "testing"

func TestIsPrimaryFilePredicate(t *testing.T) {
	cases := map[string]bool{
		"/etc/fstab":                 true,
		"/etc/sysconfig/network/eth0": true,
		"/bin/bash":                  true,
		"/usr/bin/env":               true,
		"/usr/sbin/useradd":          true,
		"/sbin/init":                 true,
		"/usr/lib/sendmail":          true,
		"/usr/share/doc/README":      false,
		"/usr/lib/libfoo.so":         false,
		"/var/log/messages":          false,
	}
	for path, want := range cases {
		if got := IsPrimaryFile(path); got != want {
			t.Errorf("IsPrimaryFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFlagFromBits(t *testing.T) {
	cases := []struct {
		bits int32
		want Flag
	}{
		{senseEqual, FlagEQ},
		{senseLess, FlagLT},
		{senseGreater, FlagGT},
		{senseLess | senseEqual, FlagLE},
		{senseGreater | senseEqual, FlagGE},
		{0, FlagNone},
	}
	for _, c := range cases {
		if got := flagFromBits(c.bits); got != c.want {
			t.Errorf("flagFromBits(%d) = %q, want %q", c.bits, got, c.want)
		}
	}
}

func TestIsPre(t *testing.T) {
	if !isPre(sensePrereq) {
		t.Error("sensePrereq should be pre")
	}
	if !isPre(senseScriptPre) {
		t.Error("senseScriptPre should be pre")
	}
	if isPre(senseEqual) {
		t.Error("plain EQ should not be pre")
	}
}

func TestSplitEVR(t *testing.T) {
	cases := []struct {
		raw                            string
		epoch, version, release string
	}{
		{"", "", "", ""},
		{"1.2.3", "", "1.2.3", ""},
		{"1.2.3-4", "", "1.2.3", "4"},
		{"2:1.2.3-4", "2", "1.2.3", "4"},
	}
	for _, c := range cases {
		e, v, r := splitEVR(c.raw)
		if e != c.epoch || v != c.version || r != c.release {
			t.Errorf("splitEVR(%q) = (%q,%q,%q), want (%q,%q,%q)", c.raw, e, v, r, c.epoch, c.version, c.release)
		}
	}
}

func TestClassifyFile(t *testing.T) {
	if classifyFile(rpmfileGhost, 0) != FileGhost {
		t.Error("ghost flag should classify as ghost")
	}
	if classifyFile(0, modeDirBits) != FileDir {
		t.Error("S_IFDIR mode should classify as dir")
	}
	if classifyFile(0, 0o100644) != FileRegular {
		t.Error("regular file mode should classify as regular")
	}
}

func TestChangelogEntriesRespectsLimit(t *testing.T) {
	entries := []ChangelogEntry{
		{Author: "a", Date: 100, Text: "old"},
		{Author: "b", Date: 300, Text: "newest"},
		{Author: "c", Date: 200, Text: "middle"},
	}
	got := limitChangelog(entries, 2)
	if len(got) != 2 {
		t.Fatalf("limitChangelog returned %d entries, want 2", len(got))
	}
	if got[0].Text != "newest" || got[1].Text != "middle" {
		t.Errorf("unexpected changelog order: %+v", got)
	}
}

func TestChangelogEntriesUnlimited(t *testing.T) {
	entries := []ChangelogEntry{
		{Author: "a", Date: 100, Text: "old"},
		{Author: "b", Date: 300, Text: "newest"},
	}
	got := limitChangelog(entries, 0)
	if len(got) != 2 {
		t.Errorf("limit 0 should mean unlimited, got %d entries", len(got))
	}
	if got[0].Text != "newest" || got[1].Text != "old" {
		t.Errorf("unexpected changelog order: %+v", got)
	}
}
