package instance

import (
	"os"
	"strings"
)

var idKeys = []string{"TRADELINE_INSTANCE_ID", "DYNO"}

// ID names this process in logs and lock ownership: an explicit instance id,
// the Heroku dyno, then the hostname.
func ID() string {
	for _, key := range idKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
