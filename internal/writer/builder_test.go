package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/writer/ingest"
)

func TestBuildPlan(t *testing.T) {
	p := BuildPlan(cfg.StatusConfig{Endpoint: "plc:502", UnitID: 4, Slot: 2, Name: "ST-02"})
	assert.Equal(t, StatusPlan{Endpoint: "plc:502", UnitID: 4, BaseSlot: 2, Name: "ST-02"}, p)
}

func TestBuildEndpointClient_Ingest(t *testing.T) {
	// ingest is connectionless until the first write
	cli, closeFn, err := BuildEndpointClient(cfg.StatusConfig{
		Transport: cfg.TransportIngest,
		Endpoint:  "127.0.0.1:1",
	})
	require.NoError(t, err)
	assert.IsType(t, &ingest.EndpointClient{}, cli)
	assert.NoError(t, closeFn())
}

func TestBuildEndpointClient_Unknown(t *testing.T) {
	_, _, err := BuildEndpointClient(cfg.StatusConfig{Transport: "mqtt", Endpoint: "x"})
	assert.Error(t, err)
}
