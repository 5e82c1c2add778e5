package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigProductFinder(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_URL", "http://api.local")
	t.Setenv("WORKER_NODE", "product-finder")
	t.Setenv("NODE_TOKEN", "secret")
	t.Setenv("PRODUCT_FINDER_INPUT_QUEUE", "product_finder")
	t.Setenv("PRODUCT_LOOKUP_URL", "")
	t.Setenv("PRODUCT_CODES_ENDPOINT", "")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/product_codes/", c.Worker.ProductCodesEndpoint)
	assert.ErrorContains(t, c.ValidateWorker(), "PRODUCT_LOOKUP_URL is required")

	c.Worker.ProductLookupURL = "http://catalogue/lookup"
	assert.NoError(t, c.ValidateWorker())

	c.Broker.ProductFinderQueue = ""
	assert.ErrorIs(t, c.ValidateWorker(), ErrInvalidInput)
}
