package cache

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// JobStatusKey is scoped by owner so a status read needs no store lookup.
func JobStatusKey(userID, jobID uuid.UUID) string {
	return fmt.Sprintf("retrieval:status:%s:%s", userID, jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// LatestJobKey holds the ID of a user's most recent job of one type.
func LatestJobKey(userID uuid.UUID, jobType models.JobType) string {
	return fmt.Sprintf("retrieval:latest:%s:%s", userID, jobType)
}
