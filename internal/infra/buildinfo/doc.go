// Package buildinfo provides build information for snapstream.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/snapstream/internal/infra/buildinfo.Version=v1.0.0"
//
// When GoVersion is not injected it is read from the binary's embedded
// build information.
package buildinfo
