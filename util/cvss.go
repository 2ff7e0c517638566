// Package util provides utility functions for the backend.
package util

import (
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/samber/lo"
)

// v3Schemes lists the CVSS v3 metric keys in precedence order
func v3Schemes(m *model.Metrics) [][]model.CVSSMetric {
	return [][]model.CVSSMetric{m.CvssMetricV31, m.CvssMetricV30, m.CvssMetricV3}
}

// PrimaryCVSSScore returns the single score summarising a CVE.
// The first v3 entry wins, falling back to the first v2 entry; nil when neither exists.
func PrimaryCVSSScore(m *model.Metrics) *float64 {
	if m == nil {
		return nil
	}
	for _, scheme := range v3Schemes(m) {
		if len(scheme) > 0 {
			return lo.ToPtr(scheme[0].CvssData.BaseScore)
		}
	}
	if len(m.CvssMetricV2) > 0 {
		return lo.ToPtr(m.CvssMetricV2[0].CvssData.BaseScore)
	}
	return nil
}

// AllCVSSScores returns every v2 and v3 base score attached to a CVE
func AllCVSSScores(m *model.Metrics) []float64 {
	if m == nil {
		return nil
	}
	schemes := append([][]model.CVSSMetric{m.CvssMetricV2}, v3Schemes(m)...)
	return lo.FlatMap(schemes, func(scheme []model.CVSSMetric, _ int) []float64 {
		return lo.Map(scheme, func(metric model.CVSSMetric, _ int) float64 {
			return metric.CvssData.BaseScore
		})
	})
}

// ScoreInRange reports whether any v2 or v3 score satisfies the inclusive bounds.
// A nil bound is open.
func ScoreInRange(m *model.Metrics, minScore, maxScore *float64) bool {
	if minScore == nil && maxScore == nil {
		return true
	}
	return lo.SomeBy(AllCVSSScores(m), func(score float64) bool {
		if minScore != nil && score < *minScore {
			return false
		}
		if maxScore != nil && score > *maxScore {
			return false
		}
		return true
	})
}

// GetSeverityRating returns the severity rating for a given CVSS score
func GetSeverityRating(score float64) string {
	switch {
	case score == 0:
		return "NONE"
	case score < 4.0:
		return "LOW"
	case score < 7.0:
		return "MEDIUM"
	case score < 9.0:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}
