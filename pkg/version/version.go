package version

// Build information, overridden at link time:
//
//	go build -ldflags "-X github.com/chmdznr/biosync/pkg/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line version description
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
