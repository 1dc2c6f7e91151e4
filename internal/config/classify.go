package config

import (
	"errors"

	"github.com/holocm/repoindex/internal/checksum"
	"github.com/holocm/repoindex/internal/compress"
	"github.com/holocm/repoindex/internal/rpmfact"
	"github.com/holocm/repoindex/internal/sqlitedb"
	"github.com/holocm/repoindex/internal/xmlfmt"
)

// classify maps a component-local error type to its spec.md §7 Kind.
func classify(err error) Kind {
	var (
		unknownAlgo   *checksum.UnknownAlgorithmError
		unknownComp   *compress.UnknownCompressionError
		malformedStrm *compress.MalformedStreamError
		malformedRpm  *rpmfact.MalformedRpmError
		malformedXML  *xmlfmt.MalformedXMLError
		sqliteErr     *sqlitedb.SqliteError
	)
	switch {
	case errors.As(err, &unknownAlgo):
		return KindUnknownAlgorithm
	case errors.As(err, &unknownComp):
		return KindUnknownCompression
	case errors.As(err, &malformedStrm):
		return KindMalformedStream
	case errors.As(err, &malformedRpm):
		return KindMalformedRpm
	case errors.As(err, &malformedXML):
		return KindMalformedXML
	case errors.As(err, &sqliteErr):
		return KindSqlite
	default:
		return KindIO
	}
}
