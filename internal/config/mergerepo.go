package config

import (
	"github.com/BurntSushi/toml"
	"github.com/ogier/pflag"

	"github.com/holocm/repoindex/internal/compress"
)

// MergeMethod selects the admission policy §4.6.5 describes for resolving
// which package wins when multiple input repos supply the same (name,arch).
type MergeMethod string

const (
	MergeRepoFirst MergeMethod = "repo"
	MergeTimestamp MergeMethod = "ts"
	MergeNVR       MergeMethod = "nvr"
	MergeAll       MergeMethod = "all"
)

// ParseMergeMethod validates the --method flag vocabulary.
func ParseMergeMethod(label string) (MergeMethod, error) {
	switch MergeMethod(label) {
	case MergeRepoFirst, MergeTimestamp, MergeNVR, MergeAll:
		return MergeMethod(label), nil
	default:
		return "", BadArgument("unrecognized --method %q (want repo|ts|nvr|all)", label)
	}
}

// MergeRepoOptions holds the resolved configuration for the mergerepo-go
// binary (SPEC_FULL.md §6's added command surface).
type MergeRepoOptions struct {
	Repos      []string
	ArchList   []string
	Method     MergeMethod
	Blocked    []string
	NoarchRepo string

	OutputDir    string
	Database     bool
	CompressType compress.Codec

	ConfigFile string
	LogLevel   string
}

type tomlMergeRepoDoc struct {
	Method       string `toml:"method"`
	OutputDir    string `toml:"outputdir"`
	Database     *bool  `toml:"database"`
	CompressType string `toml:"compress-type"`
	LogLevel     string `toml:"log-level"`
}

// ParseMergeRepoArgs parses argv into a MergeRepoOptions.
func ParseMergeRepoArgs(argv []string) (*MergeRepoOptions, error) {
	opts := &MergeRepoOptions{
		Method:       MergeRepoFirst,
		Database:     true,
		CompressType: compress.Gzip,
	}

	fs := pflag.NewFlagSet("mergerepo-go", pflag.ContinueOnError)
	var (
		methodLabel   string
		compressLabel string
		noDatabase    bool
	)

	fs.Var(newStringList(&opts.Repos), "repo", "input repo directory, in priority order (repeatable, >=2)")
	fs.Var(newStringList(&opts.ArchList), "archlist", "restrict emitted packages to these architectures (repeatable)")
	fs.StringVar(&methodLabel, "method", "repo", "admission policy (repo|ts|nvr|all)")
	fs.Var(newStringList(&opts.Blocked), "blocked", "source RPM name to exclude (repeatable)")
	fs.StringVar(&opts.NoarchRepo, "noarch-repo", "", "repo whose noarch packages override same-basename entries")
	fs.StringVar(&opts.OutputDir, "outputdir", "", "directory under which repodata/ is published")
	fs.BoolVar(&opts.Database, "database", true, "emit SQLite mirrors alongside XML")
	fs.BoolVar(&noDatabase, "no-database", false, "disable SQLite mirrors")
	fs.StringVar(&compressLabel, "compress-type", "gz", "DB/auxiliary compression (gz|bz2|xz)")
	fs.StringVar(&opts.ConfigFile, "config", "", "TOML config file overlaying these defaults")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	if err := fs.Parse(argv); err != nil {
		return nil, BadArgument("parsing arguments: %v", err)
	}

	if opts.ConfigFile != "" {
		var doc tomlMergeRepoDoc
		if _, err := toml.DecodeFile(opts.ConfigFile, &doc); err != nil {
			return nil, BadArgument("reading config file %s: %v", opts.ConfigFile, err)
		}
		if !fs.Changed("method") && doc.Method != "" {
			methodLabel = doc.Method
		}
		if !fs.Changed("outputdir") && doc.OutputDir != "" {
			opts.OutputDir = doc.OutputDir
		}
		if !fs.Changed("compress-type") && doc.CompressType != "" {
			compressLabel = doc.CompressType
		}
		if !fs.Changed("database") && !fs.Changed("no-database") && doc.Database != nil {
			opts.Database = *doc.Database
		}
		if !fs.Changed("log-level") && doc.LogLevel != "" {
			opts.LogLevel = doc.LogLevel
		}
	}

	method, err := ParseMergeMethod(methodLabel)
	if err != nil {
		return nil, err
	}
	opts.Method = method

	codec, err := compress.ParseCompressType(compressLabel)
	if err != nil {
		return nil, BadArgument("--compress-type: %v", err)
	}
	opts.CompressType = codec

	if noDatabase {
		opts.Database = false
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate enforces the eager argument checks before any staging directory
// is created.
func (o *MergeRepoOptions) Validate() error {
	if len(o.Repos) < 2 {
		return BadArgument("--repo must be given at least twice")
	}
	if o.OutputDir == "" {
		return BadArgument("--outputdir is required")
	}
	return nil
}
