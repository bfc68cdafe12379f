package internal

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// InstanceID identifies this process across the fleet: hostname plus pid.
// It prefixes every lease owner ID so operators can see which process held a
// stuck lease.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// NewOwnerID returns a lease owner identifier unique per refresh attempt.
// The timestamp and uuid suffix keep two attempts from the same process
// distinct, so a stale attempt can never release a lease it no longer holds.
func NewOwnerID(instanceID string) string {
	return fmt.Sprintf("%s-%d-%s", instanceID, time.Now().UnixNano(), shortUUID())
}

func shortUUID() string {
	id := uuid.NewString()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
