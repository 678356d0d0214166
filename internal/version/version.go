package version

// Version is the current version of the jam CLI.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/Bluehatcoders/jam/internal/version.Version=v1.0.0'"
var Version = "dev"

// ClientType is announced to the relay so it can tell CLI peers from browsers.
const ClientType = "cli"
