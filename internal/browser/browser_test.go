package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.LaunchTimeout)
	assert.Empty(t, opts.CDPEndpoint)
}

func TestDefaultPageOptions(t *testing.T) {
	opts := DefaultPageOptions()

	assert.Equal(t, 30*time.Second, opts.DefaultTimeout)
	assert.Equal(t, 30*time.Second, opts.NavigationTimeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Contains(t, opts.UserAgent, "Chrome/")
	assert.NotContains(t, opts.UserAgent, "Headless")
	assert.Equal(t, "en-US,en;q=0.9", opts.ExtraHeaders["Accept-Language"])
}

func TestResolveProvider(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(key string) string { return vars[key] }
	}

	tests := []struct {
		name     string
		provider string
		env      map[string]string
		want     string
		wantErr  bool
	}{
		{name: "auto defaults to local", provider: "auto", want: ProviderLocal},
		{name: "empty behaves like auto", provider: "", want: ProviderLocal},
		{name: "lambda detected", provider: "auto", env: map[string]string{"AWS_LAMBDA_FUNCTION_NAME": "scraper"}, want: ProviderServerless},
		{name: "vercel detected", provider: "AUTO", env: map[string]string{"VERCEL": "1"}, want: ProviderServerless},
		{name: "explicit local wins over env", provider: "local", env: map[string]string{"VERCEL": "1"}, want: ProviderLocal},
		{name: "explicit serverless", provider: " serverless ", want: ProviderServerless},
		{name: "unknown provider", provider: "firefox", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveProvider(tt.provider, env(tt.env))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLauncher(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	t.Setenv("VERCEL", "")

	l, err := NewLauncher(ProviderServerless, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "serverless", l.Name())

	l, err = NewLauncher(ProviderAuto, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", l.Name())

	_, err = NewLauncher("webkit", nil, nil)
	assert.Error(t, err)
}

func TestPoolStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "recycling", StateRecycling.String())
	assert.Equal(t, "unknown", State(42).String())
}
