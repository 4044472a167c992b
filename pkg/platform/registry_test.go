package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ato-project/ato/pkg/engine"
)

type stubClient struct {
	engine.PlatformClient
	creds *engine.Credentials
	opts  Options
}

func (s *stubClient) GetComponentInfoAndDependencies(context.Context, string) (*engine.ComponentInfo, error) {
	return &engine.ComponentInfo{ID: "x"}, nil
}

func TestRegistryDefaultsProvider(t *testing.T) {
	r := NewRegistry(Options{})
	r.Register("Boomi", func(creds *engine.Credentials, opts Options) (engine.PlatformClient, error) {
		return &stubClient{creds: creds, opts: opts}, nil
	})

	client, err := r.NewClient(&engine.Credentials{AccountID: "acct"})
	require.NoError(t, err)

	stub := client.(*stubClient)
	assert.Equal(t, "acct", stub.creds.AccountID)
	assert.Equal(t, 30*time.Second, stub.opts.HTTP.Timeout)
	assert.NotNil(t, stub.opts.Observer)
	assert.Equal(t, []string{"boomi"}, r.Providers())
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.NewClient(&engine.Credentials{Provider: "mulesoft"})
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	_, err = r.NewClient(nil)
	assert.Error(t, err)
}

func TestRegistryImplementsClientFactory(t *testing.T) {
	var _ engine.ClientFactory = NewRegistry(Options{})
}
