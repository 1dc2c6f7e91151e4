/*******************************************************************************
*
* Copyright 2015 Stefan Majewsky <majewsky@gmx.net>
*
* This file is part of Holo.
*
* Holo is free software: you can redistribute it and/or modify it under the
* terms of the GNU General Public License as published by the Free Software
* Foundation, either version 3 of the License, or (at your option) any later
* version.
*
* Holo is distributed in the hope that it will be useful, but WITHOUT ANY
* WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
* A PARTICULAR PURPOSE. See the GNU General Public License for more details.
*
* You should have received a copy of the GNU General Public License along with
* Holo. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Command createrepo-go builds and publishes RPM repository metadata for a
// directory tree of packages: primary/filelists/other XML (and, by
// default, their SQLite mirrors), an optional group file, and repomd.xml.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/manifest"
	"github.com/holocm/repoindex/internal/oldmeta"
	"github.com/holocm/repoindex/internal/pipeline"
	"github.com/holocm/repoindex/internal/retention"
	"github.com/holocm/repoindex/internal/sqlitedb"
)

func main() {
	opts, err := config.ParseCreateRepoArgs(os.Args[1:])
	if err != nil {
		showError(err)
		os.Exit(1)
	}

	logger := config.NewLogger(opts.LogLevel)
	if err := run(opts, logger); err != nil {
		logger.Errorf("%v", err)
		showError(err)
		os.Exit(1)
	}
}

func run(opts *config.CreateRepoOptions, logger *config.Logger) error {
	ctx := context.Background()

	stagingDir, err := retention.PrepareStagingDir(opts.OutputDir)
	if err != nil {
		return err
	}
	release := retention.Guard(ctx, stagingDir)
	defer release()

	var oldLoader *oldmeta.Loader
	if opts.Update {
		oldLoader = oldmeta.NewLoader(oldmeta.KeyFilename)
		updatePath := opts.UpdateMDPath
		if updatePath == "" {
			updatePath = opts.OutputDir
		}
		if err := oldLoader.LoadRepoDir(updatePath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			logger.Infof("no prior repository metadata found at %s; building fresh", updatePath)
			oldLoader = nil
		}
	}

	tasks, err := pipeline.Discover(opts.Directory, pipeline.DiscoverOptions{
		IncludePkgs:  opts.IncludePkgs,
		PkgListFile:  opts.PkgListFile,
		Excludes:     opts.Excludes,
		SkipSymlinks: opts.SkipSymlinks,
	})
	if err != nil {
		return err
	}
	logger.Infof("discovered %d package(s) under %s", len(tasks), opts.Directory)

	result, err := pipeline.Run(ctx, stagingDir, tasks, pipeline.Options{
		ChecksumAlgo:   opts.ChecksumAlgo,
		LocationBase:   opts.BaseURL,
		ChangelogLimit: opts.ChangelogLimit,
		Workers:        opts.Workers,
		SkipStat:       opts.SkipStat,
		Database:       opts.Database,
		DBCompressType: opts.CompressType,
		OldLoader:      oldLoader,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	logger.Infof("wrote %d package(s), reused %d from the previous generation",
		result.PackageCount, int64(result.PackageCount)-result.ExtractCount)

	records, err := buildManifestRecords(stagingDir, result, opts)
	if err != nil {
		return err
	}

	if opts.GroupFile != "" {
		groupRecords, err := manifest.ImportGroupFile(opts.GroupFile, stagingDir, opts.ChecksumAlgo, opts.UniqueMDFilenames)
		if err != nil {
			return err
		}
		records = append(records, groupRecords...)
	}

	repoTags, contentTags, distroTags := opts.RepoTags, opts.ContentTags, opts.DistroTags
	if oldLoader != nil {
		if len(repoTags) == 0 {
			repoTags = oldLoader.RepoTags()
		}
		if len(contentTags) == 0 {
			contentTags = oldLoader.ContentTags()
		}
		if len(distroTags) == 0 {
			distroTags = oldLoader.DistroTags()
		}
	}
	repomd := manifest.BuildRepoMD(records, time.Now().Unix(), repoTags, contentTags, distroTags)
	if err := os.WriteFile(filepath.Join(stagingDir, "repomd.xml"), repomd, 0o644); err != nil {
		return config.Wrap("writing repomd.xml", err)
	}

	policy := retention.PolicyFromOptions(opts.RetainOld, opts.RetainAge)
	if err := retention.Publish(opts.OutputDir, stagingDir, policy); err != nil {
		return err
	}
	logger.Infof("published repodata/ under %s", opts.OutputDir)
	return nil
}

func buildManifestRecords(stagingDir string, result *pipeline.Result, opts *config.CreateRepoOptions) ([]*manifest.Record, error) {
	type stream struct {
		xmlPath, dbPath string
		xmlType, dbType string
	}
	streams := []stream{
		{result.Primary.XMLPath, result.Primary.DBPath, "primary", "primary_db"},
		{result.Filelists.XMLPath, result.Filelists.DBPath, "filelists", "filelists_db"},
		{result.Other.XMLPath, result.Other.DBPath, "other", "other_db"},
	}

	var records []*manifest.Record
	for _, s := range streams {
		rec, err := manifest.BuildRecord(stagingDir, filepath.Base(s.xmlPath), s.xmlType, compress.Gzip, opts.ChecksumAlgo, 0, opts.UniqueMDFilenames)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)

		if opts.Database {
			dbRec, err := manifest.BuildRecord(stagingDir, filepath.Base(s.dbPath), s.dbType, opts.DBCompressType, opts.ChecksumAlgo, sqlitedb.SchemaVersion, opts.UniqueMDFilenames)
			if err != nil {
				return nil, err
			}
			records = append(records, dbRec)
		}
	}
	return records, nil
}

func showError(err error) {
	fmt.Fprintf(os.Stderr, "\x1b[31m\x1b[1m!!\x1b[0m %s\n", err.Error())
}
