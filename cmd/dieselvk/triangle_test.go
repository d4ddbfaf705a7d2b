package main

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriangleGeometry(t *testing.T) {
	const stride = 5 // vec2 position + vec3 colour
	require.Zero(t, len(vertices)%stride)
	for _, i := range indices {
		assert.Less(t, int(i), len(vertices)/stride)
	}

	data := floatBytes(vertices)
	require.Len(t, data, 4*len(vertices))
	assert.Equal(t, vertices[1], math.Float32frombits(binary.LittleEndian.Uint32(data[4:])))
}
