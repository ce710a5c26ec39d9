package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenEngineRoundTripsThroughExampleRegistry(t *testing.T) {
	cfg := EngineConfig{DataDir: t.TempDir(), DefaultPageSize: 10}

	engine, cleanup, err := openEngine(cfg)
	require.NoError(t, err)
	defer cleanup()

	id, err := parseInstanceID("counter/demo")
	require.NoError(t, err)

	require.NoError(t, engine.SignalEntity(context.Background(), nil, id, "add", 5))

	require.Eventually(t, func() bool {
		result, err := engine.CallEntity(context.Background(), nil, id, "get", nil)
		if err != nil || !result.Succeeded() {
			return false
		}
		var total int
		return json.Unmarshal(result.OK, &total) == nil && total == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpenEngineRejectsEmptyDataDir(t *testing.T) {
	_, _, err := openEngine(EngineConfig{})
	require.Error(t, err)
}
