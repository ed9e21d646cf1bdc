//go:build cloudintegration

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/imagequeue/test/cloudtest"
)

func TestSecretsManager_Moto(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	cloudtest.UseStaticCredentials(t)
	ctx := context.Background()

	id := cloudtest.CreateSecret(t, ctx, "sk-moto")

	sm, err := NewSecretsManager(ctx, cloudtest.Region, cloudtest.Endpoint)
	require.NoError(t, err)

	v, err := sm.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sk-moto", v)

	cached := NewCached(sm, id)
	v, err = cached.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-moto", v)

	_, err = sm.Fetch(ctx, id+"-missing")
	assert.Error(t, err)
}
