package version

// Set at build time via -ldflags "-X github.com/sydlexius/corruptscan/internal/version.Version=...".
var (
	Version = "1.0.0"
	Commit  = "unknown"
)

// String returns the version line printed by --version.
func String() string {
	if Commit == "" || Commit == "unknown" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
