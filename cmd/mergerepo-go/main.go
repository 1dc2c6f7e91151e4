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

// Command mergerepo-go merges N input RPM repositories into one, resolving
// per-(name,arch) conflicts with a configurable admission policy before
// feeding the surviving Package Facts through the same ordered multi-sink
// writer createrepo-go uses.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/config"
	"github.com/holocm/repoindex/internal/manifest"
	"github.com/holocm/repoindex/internal/merge"
	"github.com/holocm/repoindex/internal/pipeline"
	"github.com/holocm/repoindex/internal/retention"
	"github.com/holocm/repoindex/internal/sqlitedb"
)

func main() {
	opts, err := config.ParseMergeRepoArgs(os.Args[1:])
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

func run(opts *config.MergeRepoOptions, logger *config.Logger) error {
	ctx := context.Background()

	stagingDir, err := retention.PrepareStagingDir(opts.OutputDir)
	if err != nil {
		return err
	}
	release := retention.Guard(ctx, stagingDir)
	defer release()

	facts, err := merge.Merge(merge.Options{
		Repos:      opts.Repos,
		ArchList:   opts.ArchList,
		Method:     opts.Method,
		Blocked:    opts.Blocked,
		NoarchRepo: opts.NoarchRepo,
	})
	if err != nil {
		return err
	}
	logger.Infof("merged %d package(s) from %d repo(s)", len(facts), len(opts.Repos))

	result, err := pipeline.RunFacts(ctx, stagingDir, facts, pipeline.Options{
		ChecksumAlgo:   checksum.SHA256,
		Database:       opts.Database,
		DBCompressType: opts.CompressType,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	records, err := buildManifestRecords(stagingDir, result, opts)
	if err != nil {
		return err
	}

	repomd := manifest.BuildRepoMD(records, time.Now().Unix(), nil, nil, nil)
	if err := os.WriteFile(filepath.Join(stagingDir, "repomd.xml"), repomd, 0o644); err != nil {
		return config.Wrap("writing repomd.xml", err)
	}

	if err := retention.Publish(opts.OutputDir, stagingDir, retention.Policy{Kind: retention.KindDefault}); err != nil {
		return err
	}
	logger.Infof("published merged repodata/ under %s", opts.OutputDir)
	return nil
}

func buildManifestRecords(stagingDir string, result *pipeline.Result, opts *config.MergeRepoOptions) ([]*manifest.Record, error) {
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
		rec, err := manifest.BuildRecord(stagingDir, filepath.Base(s.xmlPath), s.xmlType, compress.Gzip, checksum.SHA256, 0, true)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)

		if opts.Database {
			dbRec, err := manifest.BuildRecord(stagingDir, filepath.Base(s.dbPath), s.dbType, opts.CompressType, checksum.SHA256, sqlitedb.SchemaVersion, true)
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
