package version

// Set at build time via -ldflags "-X androidssh/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	Arch    = "unknown"
	OS      = "unknown"
	Package = "source"
)
