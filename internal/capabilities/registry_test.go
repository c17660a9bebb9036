package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnown(t *testing.T) {
	assert.True(t, Known(Camera))
	assert.True(t, Known(SMS))
	assert.False(t, Known("bluetooth"))
}

func TestFilter_SplitsKnownAndUnknown(t *testing.T) {
	valid, unknown := Filter([]string{Canvas, "bluetooth", Location, "nfc"})
	assert.Equal(t, []string{Canvas, Location}, valid)
	assert.Equal(t, []string{"bluetooth", "nfc"}, unknown)
}

func TestFilter_EmptyInput(t *testing.T) {
	valid, unknown := Filter(nil)
	assert.Nil(t, valid)
	assert.Nil(t, unknown)
}
