package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Count int
}

func TestGobCodecRoundTrip(t *testing.T) {
	data, err := GobCodec{}.Encode(sample{Name: "a", Count: 3})
	require.NoError(t, err)

	var out sample
	require.NoError(t, GobCodec{}.Decode(data, &out))
	assert.Equal(t, sample{Name: "a", Count: 3}, out)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	data, err := JSONCodec{}.Encode(sample{Name: "b", Count: 7})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"b"`)

	var out sample
	require.NoError(t, JSONCodec{}.Decode(data, &out))
	assert.Equal(t, sample{Name: "b", Count: 7}, out)
}
