package browser

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	ProviderAuto       = "auto"
	ProviderLocal      = "local"
	ProviderServerless = "serverless"
)

// serverlessEnvVars mark hosted runtimes where a full local Chromium with
// stealth is unavailable.
var serverlessEnvVars = []string{
	"AWS_LAMBDA_FUNCTION_NAME",
	"VERCEL",
}

// ResolveProvider maps the configured provider to a concrete one. "auto"
// picks serverless when a serverless runtime is detected.
func ResolveProvider(provider string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderAuto:
		for _, key := range serverlessEnvVars {
			if getenv(key) != "" {
				return ProviderServerless, nil
			}
		}
		return ProviderLocal, nil
	case ProviderLocal:
		return ProviderLocal, nil
	case ProviderServerless:
		return ProviderServerless, nil
	default:
		return "", fmt.Errorf("unknown browser provider %q", provider)
	}
}

// NewLauncher builds the launcher strategy for the configured provider.
func NewLauncher(provider string, opts *Options, logger *slog.Logger) (Launcher, error) {
	resolved, err := ResolveProvider(provider, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if resolved == ProviderServerless {
		return NewServerlessLauncher(opts, logger), nil
	}
	return NewLocalLauncher(opts, logger), nil
}
