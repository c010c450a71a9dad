// Package utils holds small helpers shared across relay packages.
package utils

// Build metadata, stamped at link time with
// -ldflags "-X github.com/papercomputeco/relay/pkg/utils.Version=v1.2.3".
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
