package landing

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

const Prefix = "landing/"

// Sanitize derives the landing folder name of a source: lower-case, runs of
// whitespace collapsed to "_", and anything outside [a-z0-9_-] dropped.
func Sanitize(name string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SourcePrefix is the folder uploads for sourceName land in.
func SourcePrefix(sourceName string) string {
	return Prefix + Sanitize(sourceName) + "/"
}

// LegacyPrefix is the pre-rename folder keyed by pipeline and job ids.
func LegacyPrefix(pipelineID, jobID string) string {
	return Prefix + strings.TrimSpace(pipelineID) + "/" + strings.TrimSpace(jobID) + "/"
}

// NewLandingKey returns the upload key
// landing/{source}/{yyyy/MM/dd}/{unixMillis}_{filename}.
func NewLandingKey(sourceName, filename string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%s/%d_%s", SourcePrefix(sourceName), now.Format("2006/01/02"), now.UnixMilli(), path.Base(filename))
}

// LegacyLandingKey returns landing/{pipelineID}/{jobID}/{filename}.
func LegacyLandingKey(pipelineID, jobID, filename string) string {
	return LegacyPrefix(pipelineID, jobID) + path.Base(filename)
}
