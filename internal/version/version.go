package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	CLIName    = "defic"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

// UserAgent identifies the compiler to the permission service and catalogue
// hosts.
func UserAgent() string { return CLIName + "/" + CLIVersion }

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}
