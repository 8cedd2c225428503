package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFor_DoublesUpToCeiling(t *testing.T) {
	assert.Equal(t, time.Second, backoffFor(1))
	assert.Equal(t, 2*time.Second, backoffFor(2))
	assert.Equal(t, 4*time.Second, backoffFor(3))
	assert.Equal(t, 30*time.Second, backoffFor(10))
	assert.Equal(t, 30*time.Second, backoffFor(20))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "listening", StateListening.String())
}
