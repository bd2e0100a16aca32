package config

import "time"

const (
	// Reputation
	InitialReputation = 1000
	MaxReputation     = 1000
	MinReputation     = 0

	// Ban
	BanThresholdReputation = 500
	BanThresholdFrequency  = 5
	BanFrequencyWindow     = 24 * time.Hour
	BanEscalationWindow    = 30 * 24 * time.Hour
	BanLevel1Duration      = 30 * time.Minute
	BanLevel2Duration      = 6 * time.Hour
	BanLevel3Duration      = 24 * time.Hour
	MaxBanLevel            = 3
)

// ComplaintWeights is the reputation penalty per complaint type.
var ComplaintWeights = map[string]int{
	"Low":      5,
	"Medium":   50,
	"Critical": 250,
}
