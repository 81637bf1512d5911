package version

// Version is overridden at build time with -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"

// Commit is the source revision, set at build time.
var Commit = "unknown"

func String() string {
	return Version + " (" + Commit + ")"
}
