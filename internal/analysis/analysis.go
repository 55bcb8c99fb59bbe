// Package analysis maps user reports onto reputation impact. It decides how
// severe a report category is and how much it costs the reported user.
package analysis

import "randolink/backend/internal/config"

// GetWeight returns the reputation penalty for a report category.
// Unrecognized categories weigh 0.
func GetWeight(category string) int {
	return config.ReportWeights[category]
}
