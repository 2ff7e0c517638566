package services

import (
	"context"
	"errors"

	"github.com/ortelius/cvefeed-backend/database"
)

// Overview summarises the stored dataset
type Overview struct {
	TotalCVEs int `json:"total_cves"`
	// Watermark is the newest stored lastModified; empty for an empty store
	Watermark string `json:"watermark"`
}

// SeverityDistribution counts records by the severity of their primary CVSS score
type SeverityDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	None     int `json:"none"`
	Unscored int `json:"unscored"`
}

// Overview returns the record count and the current sync watermark
func (s *CVEQueryService) Overview(ctx context.Context) (Overview, error) {
	total, err := s.store.Count(ctx, database.CVEFilter{})
	if err != nil {
		return Overview{}, err
	}

	newest, err := s.store.FindNewestByModifiedDate(ctx)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return Overview{TotalCVEs: total}, nil
	case err != nil:
		return Overview{}, err
	}
	return Overview{TotalCVEs: total, Watermark: newest.CVE.LastModified}, nil
}

// SeverityDistribution buckets every stored record by severity
func (s *CVEQueryService) SeverityDistribution(ctx context.Context) (SeverityDistribution, error) {
	counts, err := s.store.SeverityCounts(ctx)
	if err != nil {
		return SeverityDistribution{}, err
	}
	return SeverityDistribution{
		Critical: counts["CRITICAL"],
		High:     counts["HIGH"],
		Medium:   counts["MEDIUM"],
		Low:      counts["LOW"],
		None:     counts["NONE"],
		Unscored: counts[database.SeverityUnscored],
	}, nil
}
