package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func CancelKey(jobID uuid.UUID) string {
	return fmt.Sprintf("cancel:%s", jobID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}
