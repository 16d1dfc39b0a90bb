package instance

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GetID identifies this process when it holds a distributed lock. The value
// is unique per process so a restarted worker never releases a lock taken by
// its predecessor.
func GetID() string {
	host := os.Getenv("KEYMARKET_WORKER_ID")
	if host == "" {
		host, _ = os.Hostname()
	}
	if host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
