// Package util provides helpers shared by the store, the synchronizer and the API:
// environment lookup, NVD timestamp handling and description selection.
//
//revive:disable-next-line:var-naming
package util

import (
	"fmt"
	"os"
	"time"

	"github.com/ortelius/cvefeed-backend/model"
	"github.com/samber/lo"
)

// NVDTimeFormat is the millisecond precision layout NVD uses for published/lastModified
const NVDTimeFormat = "2006-01-02T15:04:05.000"

// nvdTimeLayouts are tried in order when reading upstream timestamps
var nvdTimeLayouts = []string{
	NVDTimeFormat,
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// ParseNVDTime parses an upstream timestamp; zone-less values are read as UTC
func ParseNVDTime(value string) (time.Time, error) {
	for _, layout := range nvdTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized NVD timestamp %q", value)
}

// FormatNVDTime renders t in UTC using NVDTimeFormat
func FormatNVDTime(t time.Time) string {
	return t.UTC().Format(NVDTimeFormat)
}

// EnglishDescription returns the first description tagged "en", or ""
func EnglishDescription(descriptions []model.LangString) string {
	desc, found := lo.Find(descriptions, func(d model.LangString) bool {
		return d.Lang == "en"
	})
	if !found {
		return ""
	}
	return desc.Value
}

// Summarize projects a vulnerability into its list representation
func Summarize(v model.Vulnerability) model.CVESummary {
	return model.CVESummary{
		CveID:            v.CVE.ID,
		Identifier:       v.CVE.SourceIdentifier,
		PublishedDate:    v.CVE.Published,
		LastModifiedDate: v.CVE.LastModified,
		Status:           v.CVE.VulnStatus,
		CvssScore:        PrimaryCVSSScore(v.CVE.Metrics),
		Description:      EnglishDescription(v.CVE.Descriptions),
	}
}
