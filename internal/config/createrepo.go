// Package config parses and validates the command-line surface of both
// binaries (createrepo-go, mergerepo-go), overlays an optional TOML config
// file, and provides the structured logger used throughout the pipeline,
// manifest and retention layers.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ogier/pflag"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// CreateRepoOptions holds the resolved configuration for the createrepo-go
// binary: the primary tool's command surface from spec.md §6, plus the
// repo/content/distro tag flags SPEC_FULL.md adds to keep repomd.xml
// compatible with real clients.
type CreateRepoOptions struct {
	Directory string

	BaseURL   string
	OutputDir string

	Excludes    []string
	IncludePkgs []string
	PkgListFile string

	GroupFile string

	Update       bool
	UpdateMDPath string
	SkipStat     bool

	ChecksumAlgo   checksum.Algorithm
	ChangelogLimit int
	Workers        int

	UniqueMDFilenames bool

	CompressType compress.Codec
	Database     bool
	SkipSymlinks bool

	RetainOld int
	RetainAge int64 // seconds; -1 means "not set"

	RepoTags    []string
	ContentTags []string
	DistroTags  []xmlfmt.DistroTag

	ConfigFile string
	LogLevel   string
}

// tomlCreateRepoDoc mirrors CreateRepoOptions' long flag names for the
// optional --config <file.toml> overlay; explicit command-line flags always
// win over values loaded from here.
type tomlCreateRepoDoc struct {
	BaseURL           string   `toml:"baseurl"`
	OutputDir         string   `toml:"outputdir"`
	Excludes          []string `toml:"excludes"`
	Checksum          string   `toml:"checksum"`
	ChangelogLimit    int      `toml:"changelog-limit"`
	Workers           int      `toml:"workers"`
	UniqueMDFilenames *bool    `toml:"unique-md-filenames"`
	CompressType      string   `toml:"compress-type"`
	Database          *bool    `toml:"database"`
	RetainOld         int      `toml:"retain-old"`
	LogLevel          string   `toml:"log-level"`
}

// ParseCreateRepoArgs parses argv (excluding the program name) into a
// CreateRepoOptions, applying defaults, then any --config overlay, then the
// explicit flags on top, and finally Validate.
func ParseCreateRepoArgs(argv []string) (*CreateRepoOptions, error) {
	opts := &CreateRepoOptions{
		ChecksumAlgo:      checksum.SHA256,
		ChangelogLimit:    10,
		Workers:           5,
		UniqueMDFilenames: true,
		CompressType:      compress.Gzip,
		Database:          true,
		RetainAge:         -1,
	}

	fs := pflag.NewFlagSet("createrepo-go", pflag.ContinueOnError)
	var (
		checksumLabel string
		compressLabel string
		distroTagRaw  []string
		simpleNames   bool
		xzFlag        bool
		noDatabase    bool
	)
	distroTagFlags := newStringList(&distroTagRaw)

	fs.StringVar(&opts.BaseURL, "baseurl", "", "value of the location_base attribute")
	fs.StringVar(&opts.OutputDir, "outputdir", "", "directory under which repodata/ is published")
	fs.Var(newStringList(&opts.Excludes), "excludes", "glob pattern to exclude (repeatable)")
	fs.Var(newStringList(&opts.IncludePkgs), "includepkg", "explicit package path to include (repeatable)")
	fs.StringVar(&opts.PkgListFile, "pkglist", "", "file listing package paths to include")
	fs.StringVar(&opts.GroupFile, "groupfile", "", "group/comps file to copy into repodata/")
	fs.BoolVar(&opts.Update, "update", false, "load prior metadata and reuse unchanged packages")
	fs.StringVar(&opts.UpdateMDPath, "update-md-path", "", "alternate directory to load prior metadata from")
	fs.BoolVar(&opts.SkipStat, "skip-stat", false, "accept a cache hit on filename alone")
	fs.StringVar(&checksumLabel, "checksum", "sha256", "checksum algorithm (md5|sha1|sha256|sha384|sha512)")
	fs.IntVar(&opts.ChangelogLimit, "changelog-limit", 10, "maximum changelog entries retained per package")
	fs.IntVar(&opts.Workers, "workers", 5, "worker pool size, clamped to [1,100]")
	fs.BoolVar(&opts.UniqueMDFilenames, "unique-md-filenames", true, "prefix output filenames with their checksum")
	fs.BoolVar(&simpleNames, "simple-md-filenames", false, "disable checksum filename prefixing")
	fs.BoolVar(&xzFlag, "xz", false, "shorthand for --compress-type xz")
	fs.StringVar(&compressLabel, "compress-type", "gz", "DB/auxiliary compression (gz|bz2|xz)")
	fs.BoolVar(&opts.Database, "database", true, "emit SQLite mirrors alongside XML")
	fs.BoolVar(&noDatabase, "no-database", false, "disable SQLite mirrors")
	fs.BoolVar(&opts.SkipSymlinks, "skip-symlinks", false, "skip symlinked RPMs during discovery")
	fs.IntVar(&opts.RetainOld, "retain-old", 0, "classic-compatibility retention: keep N old generations")
	fs.Int64Var(&opts.RetainAge, "retain-age", -1, "by-age retention: drop old files older than N seconds")
	fs.Var(newStringList(&opts.RepoTags), "repo-tag", "free-form repo identity tag (repeatable)")
	fs.Var(newStringList(&opts.ContentTags), "content-tag", "free-form content tag (repeatable)")
	fs.Var(distroTagFlags, "distro-tag", "cpeid,value distro tag (repeatable)")
	fs.StringVar(&opts.ConfigFile, "config", "", "TOML config file overlaying these defaults")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	if err := fs.Parse(argv); err != nil {
		return nil, BadArgument("parsing arguments: %v", err)
	}

	if opts.ConfigFile != "" {
		if err := applyCreateRepoTOML(opts, opts.ConfigFile, fs, &checksumLabel, &compressLabel); err != nil {
			return nil, err
		}
	}

	if algo, err := checksum.ParseAlgorithm(checksumLabel); err != nil {
		return nil, BadArgument("--checksum: %v", err)
	} else {
		opts.ChecksumAlgo = algo
	}

	if xzFlag {
		opts.CompressType = compress.XZ
	} else if codec, err := compress.ParseCompressType(compressLabel); err != nil {
		return nil, BadArgument("--compress-type: %v", err)
	} else {
		opts.CompressType = codec
	}

	if simpleNames {
		opts.UniqueMDFilenames = false
	}
	if noDatabase {
		opts.Database = false
	}

	for _, raw := range distroTagRaw {
		cpeid, value, ok := splitOnComma(raw)
		if !ok {
			return nil, BadArgument("--distro-tag must be of the form cpeid,value (got %q)", raw)
		}
		opts.DistroTags = append(opts.DistroTags, xmlfmt.DistroTag{CPEID: cpeid, Value: value})
	}

	positional := fs.Args()
	if len(positional) != 1 {
		return nil, BadArgument("expected exactly one positional argument <directory_to_index>, got %d", len(positional))
	}
	opts.Directory = positional[0]
	if opts.OutputDir == "" {
		opts.OutputDir = opts.Directory
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func splitOnComma(s string) (a, b string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// applyCreateRepoTOML overlays doc onto opts, skipping any field whose flag
// was explicitly set on the command line. checksumLabel and compressLabel
// are the same local label variables ParseCreateRepoArgs later resolves via
// checksum.ParseAlgorithm/compress.ParseCompressType, so a TOML-supplied
// checksum/compress-type flows through the same parse-and-validate path as
// the command-line flags rather than being assigned to opts directly.
func applyCreateRepoTOML(opts *CreateRepoOptions, path string, fs *pflag.FlagSet, checksumLabel, compressLabel *string) error {
	var doc tomlCreateRepoDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return BadArgument("reading config file %s: %v", path, err)
	}
	// Config-file values only take effect where the corresponding flag was
	// not explicitly set on the command line; flags always win.
	if !fs.Changed("baseurl") && doc.BaseURL != "" {
		opts.BaseURL = doc.BaseURL
	}
	if !fs.Changed("outputdir") && doc.OutputDir != "" {
		opts.OutputDir = doc.OutputDir
	}
	if !fs.Changed("excludes") && len(doc.Excludes) > 0 {
		opts.Excludes = append(opts.Excludes, doc.Excludes...)
	}
	if !fs.Changed("checksum") && doc.Checksum != "" {
		*checksumLabel = doc.Checksum
	}
	if !fs.Changed("changelog-limit") && doc.ChangelogLimit != 0 {
		opts.ChangelogLimit = doc.ChangelogLimit
	}
	if !fs.Changed("workers") && doc.Workers != 0 {
		opts.Workers = doc.Workers
	}
	if !fs.Changed("unique-md-filenames") && !fs.Changed("simple-md-filenames") && doc.UniqueMDFilenames != nil {
		opts.UniqueMDFilenames = *doc.UniqueMDFilenames
	}
	if !fs.Changed("compress-type") && doc.CompressType != "" {
		*compressLabel = doc.CompressType
	}
	if !fs.Changed("database") && !fs.Changed("no-database") && doc.Database != nil {
		opts.Database = *doc.Database
	}
	if !fs.Changed("retain-old") && doc.RetainOld != 0 {
		opts.RetainOld = doc.RetainOld
	}
	if !fs.Changed("log-level") && doc.LogLevel != "" {
		opts.LogLevel = doc.LogLevel
	}
	return nil
}

// Validate enforces spec.md §6/§7's argument clamps and eager checks,
// before any staging directory is created.
func (o *CreateRepoOptions) Validate() error {
	if o.Directory == "" {
		return BadArgument("directory_to_index is required")
	}
	if fi, err := os.Stat(o.Directory); err != nil || !fi.IsDir() {
		return BadArgument("directory_to_index %q is not a directory", o.Directory)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Workers > 100 {
		o.Workers = 100
	}
	if o.ChangelogLimit < 0 {
		o.ChangelogLimit = 0
	}
	if o.ChangelogLimit > 100 {
		o.ChangelogLimit = 100
	}
	if o.RetainOld < 0 {
		return BadArgument("--retain-old must not be negative")
	}
	if o.RetainAge < -1 {
		return BadArgument("--retain-age must not be negative")
	}
	if o.RetainOld > 0 && o.RetainAge >= 0 {
		return BadArgument("--retain-old and --retain-age are mutually exclusive")
	}
	return nil
}
