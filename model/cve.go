// Package model defines the data structures used by the cvefeed-backend,
// including the NVD vulnerability documents and their list projection.
package model

import (
	"encoding/json"
	"strings"
)

// LangString is a language tagged text value as published by NVD
type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// CVSSData holds the scoring block of a single CVSS metric entry.
// Only the base score is interpreted, the remaining fields pass through untouched.
type CVSSData struct {
	Version      string  `json:"version,omitempty"`
	VectorString string  `json:"vectorString,omitempty"`
	BaseScore    float64 `json:"baseScore"`
}

// CVSSMetric is one scoring entry under a metrics scheme
type CVSSMetric struct {
	Source   string   `json:"source,omitempty"`
	Type     string   `json:"type,omitempty"`
	CvssData CVSSData `json:"cvssData"`
}

// Metrics groups the CVSS scoring schemes attached to a CVE.
// NVD 2.0 publishes v3 scores under cvssMetricV31 and cvssMetricV30; cvssMetricV3
// is kept for feeds that use the unversioned key.
type Metrics struct {
	CvssMetricV2  []CVSSMetric `json:"cvssMetricV2,omitempty"`
	CvssMetricV3  []CVSSMetric `json:"cvssMetricV3,omitempty"`
	CvssMetricV30 []CVSSMetric `json:"cvssMetricV30,omitempty"`
	CvssMetricV31 []CVSSMetric `json:"cvssMetricV31,omitempty"`
}

// CVE is the typed view over the "cve" object of an NVD vulnerability entry
type CVE struct {
	ID               string       `json:"id"`               // e.g., "CVE-2023-0001"
	SourceIdentifier string       `json:"sourceIdentifier"` // reporting organization
	Published        string       `json:"published"`        // e.g., "2023-01-01T10:15:09.000"
	LastModified     string       `json:"lastModified"`
	VulnStatus       string       `json:"vulnStatus"`
	Descriptions     []LangString `json:"descriptions"`
	Metrics          *Metrics     `json:"metrics,omitempty"`
}

// Year returns the year component of a CVE-YYYY-NNNN identifier (prefix matched
// case-insensitively), or "" for any other id shape
func (c CVE) Year() string {
	parts := strings.SplitN(c.ID, "-", 3)
	if len(parts) != 3 || !strings.EqualFold(parts[0], "CVE") || len(parts[1]) != 4 {
		return ""
	}
	for _, r := range parts[1] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return parts[1]
}

// Vulnerability is one upstream entry ({"cve": {...}}).
// The decoded document is retained in Raw so fields unknown to this service are
// stored and returned verbatim.
type Vulnerability struct {
	CVE CVE
	Raw map[string]interface{}
}

type vulnerabilityView struct {
	CVE CVE `json:"cve"`
}

// UnmarshalJSON decodes both the typed view and the raw document
func (v *Vulnerability) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var view vulnerabilityView
	if err := json.Unmarshal(data, &view); err != nil {
		return err
	}

	v.CVE = view.CVE
	v.Raw = raw
	return nil
}

// MarshalJSON emits the raw document when present, else the typed view
func (v Vulnerability) MarshalJSON() ([]byte, error) {
	if v.Raw != nil {
		return json.Marshal(v.Raw)
	}
	return json.Marshal(vulnerabilityView{CVE: v.CVE})
}

// Document returns the storable form of the vulnerability
func (v Vulnerability) Document() map[string]interface{} {
	if v.Raw != nil {
		doc := make(map[string]interface{}, len(v.Raw))
		for k, val := range v.Raw {
			doc[k] = val
		}
		return doc
	}

	// Round trip the typed view so callers always receive a plain JSON map
	doc := map[string]interface{}{}
	if b, err := json.Marshal(vulnerabilityView{CVE: v.CVE}); err == nil {
		_ = json.Unmarshal(b, &doc)
	}
	return doc
}

// StripInternalFields removes storage bookkeeping attributes (_key, _id, _rev) from Raw
func (v *Vulnerability) StripInternalFields() {
	for k := range v.Raw {
		if strings.HasPrefix(k, "_") {
			delete(v.Raw, k)
		}
	}
}

// CVESummary is the compact list representation returned by /api/cves
type CVESummary struct {
	CveID            string   `json:"cve_id"`
	Identifier       string   `json:"identifier"`
	PublishedDate    string   `json:"published_date"`
	LastModifiedDate string   `json:"last_modified_date"`
	Status           string   `json:"status"`
	CvssScore        *float64 `json:"cvss_score"` // null when no CVSS metric is present
	Description      string   `json:"description"`
}
