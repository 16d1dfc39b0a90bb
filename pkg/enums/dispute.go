package enums

import (
	"fmt"
	"strings"
)

// DisputeResolution is the verdict recorded when a dispute closes.
// Anything other than refund upholds the original sale.
type DisputeResolution string

const (
	DisputeResolutionRefund DisputeResolution = "refund"
	DisputeResolutionUphold DisputeResolution = "uphold"
)

// NormalizeDisputeResolution lowercases and trims the verdict; an empty
// verdict is rejected.
func NormalizeDisputeResolution(value string) (DisputeResolution, error) {
	verdict := strings.ToLower(strings.TrimSpace(value))
	if verdict == "" {
		return "", fmt.Errorf("dispute resolution is required")
	}
	return DisputeResolution(verdict), nil
}

func (d DisputeResolution) IsRefund() bool {
	return d == DisputeResolutionRefund
}

// DisputeFilter selects disputes for the admin desk.
type DisputeFilter string

const (
	DisputeFilterOpen     DisputeFilter = "open"
	DisputeFilterResolved DisputeFilter = "resolved"
	DisputeFilterAll      DisputeFilter = "all"
)

func ParseDisputeFilter(value string) (DisputeFilter, error) {
	switch filter := DisputeFilter(strings.ToLower(strings.TrimSpace(value))); filter {
	case "":
		return DisputeFilterOpen, nil
	case DisputeFilterOpen, DisputeFilterResolved, DisputeFilterAll:
		return filter, nil
	}
	return "", fmt.Errorf("invalid dispute filter %q", value)
}
