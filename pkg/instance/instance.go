package instance

import "os"

// GetID identifies this process in logs and lock ownership. The first
// non-empty of WORKER_ID, DYNO and HOSTNAME wins.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
