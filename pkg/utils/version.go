// Package utils holds small helpers shared by commands and the agent.
package utils

import "fmt"

// Build metadata, set with -ldflags at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies warden to remote memory and model services.
func UserAgent() string {
	return fmt.Sprintf("warden/%s (%s)", Version, Sha)
}
