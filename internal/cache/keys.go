package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("certjob:%s", jobID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}
