package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSensitiveQueryRedactsKeyParams(t *testing.T) {
	out := maskSensitiveQuery("key=sk-ant-abc123&model=claude-sonnet-4-5")
	assert.Contains(t, out, "model=claude-sonnet-4-5")
	assert.NotContains(t, out, "sk-ant-abc123")
}

func TestMaskSensitiveQueryLeavesBenignParamsAlone(t *testing.T) {
	out := maskSensitiveQuery("alt=sse&pageSize=10")
	assert.Equal(t, "alt=sse&pageSize=10", out)
}

func TestMaskSensitiveQueryEmptyInput(t *testing.T) {
	assert.Equal(t, "", maskSensitiveQuery(""))
}
