package inspector

import (
	"errors"
	"strings"
)

type Provider string

const (
	ProviderStepFunctions Provider = "aws_stepfunctions"
	ProviderGCPWorkflows  Provider = "gcp_workflows"
)

var (
	// ErrUnsupportedProvider is returned for providers this deployment
	// cannot serve, known or not.
	ErrUnsupportedProvider = errors.New("unsupported workflow provider")
	// ErrInvalidArgument is returned when a required identifier is missing.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	msgUnknownProvider = "Unsupported workflow provider"
	msgGCPUnsupported  = "GCP workflows are not configured in this deployment"
)

var providerAliases = map[string]Provider{
	"aws":               ProviderStepFunctions,
	"aws-stepfunctions": ProviderStepFunctions,
	"aws_stepfunctions": ProviderStepFunctions,
	"stepfunctions":     ProviderStepFunctions,
	"step-functions":    ProviderStepFunctions,
	"gcp":               ProviderGCPWorkflows,
	"gcp-workflows":     ProviderGCPWorkflows,
	"gcp_workflows":     ProviderGCPWorkflows,
	"cloud-workflows":   ProviderGCPWorkflows,
	"cloud_workflows":   ProviderGCPWorkflows,
	"cloudworkflow":     ProviderGCPWorkflows,
	"cloud-workflow":    ProviderGCPWorkflows,
}

// ParseProvider resolves a provider name or alias. An empty name selects
// Step Functions.
func ParseProvider(name string) (Provider, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return ProviderStepFunctions, true
	}
	p, ok := providerAliases[normalized]
	return p, ok
}

func (p Provider) Supported() bool { return p == ProviderStepFunctions }

// resolveProvider returns the provider to serve, or the user-facing reason
// it cannot be served.
func resolveProvider(name string) (Provider, string, error) {
	p, ok := ParseProvider(name)
	switch {
	case !ok:
		return ProviderStepFunctions, msgUnknownProvider, ErrUnsupportedProvider
	case !p.Supported():
		return p, msgGCPUnsupported, ErrUnsupportedProvider
	}
	return p, "", nil
}
