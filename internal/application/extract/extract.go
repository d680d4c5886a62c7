// Package extract implements the numeric contract of the document value
// extractor: find the declared tonnage in a document and return it as a
// non-negative integer, never an error. Callers rely on the zero default.
package extract

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Extractor returns the declared tonnage of a document.
type Extractor interface {
	Extract(document []byte) int64
}

// tonnagePattern matches a number followed by a tonnage unit, e.g.
// "750.5 tons", "120 tCO2e", "84 tonnes".
var tonnagePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:tons|tCO2e|tonnes)`)

// RegexExtractor scans document text for tonnage declarations and returns the
// largest match, which avoids picking up small stray numbers. Fractional
// values truncate to integer tons. No match, or unreadable input, yields 0.
type RegexExtractor struct{}

func (RegexExtractor) Extract(document []byte) int64 {
	matches := tonnagePattern.FindAllSubmatch(document, -1)
	var best float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	return int64(best)
}

// Archiver keeps a copy of each submitted document for audit purposes.
type Archiver struct {
	Dir string
}

// Save writes the document under the archive directory with a timestamped
// name. Failures are logged, never surfaced: archival must not block
// settlement.
func (a *Archiver) Save(prefix, filename string, document []byte) string {
	if a == nil || a.Dir == "" {
		return ""
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", a.Dir).Msg("document archive unavailable")
		return ""
	}
	name := prefix + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + filepath.Base(filename)
	path := filepath.Join(a.Dir, name)
	if err := os.WriteFile(path, document, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("document archive write failed")
		return ""
	}
	return path
}
