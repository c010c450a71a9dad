package provider

import (
	"fmt"

	"github.com/papercomputeco/relay/pkg/llm/provider/xai"
)

// Supported provider type constants
const (
	XAI    = "xai"
	OpenAI = "openai"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{XAI, OpenAI}
}

// New creates a new Provider instance for the given provider type.
// OpenAI shares the xAI wire format.
func New(providerType string) (Provider, error) {
	switch providerType {
	case XAI, "":
		return xai.New(), nil
	case OpenAI:
		return xai.NewWithName(OpenAI), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", providerType, SupportedProviders())
	}
}
