package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/brewmech/machine"
)

func TestParseInts(t *testing.T) {
	p, err := parseInts([]string{"100", "-5", "0"}, "steps", "speed", "direction")
	require.NoError(t, err)
	assert.Equal(t, []machine.Param{machine.Int(100), machine.Int(-5), machine.Int(0)}, p)

	_, err = parseInts([]string{"1"}, "steps", "speed")
	assert.EqualError(t, err, "expected 2 arguments: steps speed")

	_, err = parseInts([]string{"1.5"}, "steps")
	assert.ErrorContains(t, err, "steps")
}
