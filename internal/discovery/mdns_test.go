package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	host, port, err := ParseAddr("192.168.1.5:6121")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", host)
	assert.Equal(t, 6121, port)

	host, port, err = ParseAddr("[::1]:7000")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, 7000, port)

	_, _, err = ParseAddr("no-port")
	assert.Error(t, err)
	_, _, err = ParseAddr("host:http")
	assert.Error(t, err)
}
