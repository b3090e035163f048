package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgentConnectedSingleAndMany(t *testing.T) {
	var single AgentConnectedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"chatSessionId":7}`), &single))
	id, ok := single.ChatSessionID.Latest()
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	var many AgentConnectedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"chatSessionId":[5,9,12]}`), &many))
	id, ok = many.ChatSessionID.Latest()
	require.True(t, ok)
	require.Equal(t, int64(12), id)

	var empty AgentConnectedPayload
	require.NoError(t, json.Unmarshal([]byte(`{"chatSessionId":[]}`), &empty))
	_, ok = empty.ChatSessionID.Latest()
	require.False(t, ok)

	var bad AgentConnectedPayload
	require.Error(t, json.Unmarshal([]byte(`{"chatSessionId":"x"}`), &bad))
}
