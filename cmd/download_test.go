package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelection_All(t *testing.T) {
	idx, err := parseSelection("all", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, idx)
}

func TestParseSelection_Single(t *testing.T) {
	idx, err := parseSelection("3", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, idx)
}

func TestParseSelection_Range(t *testing.T) {
	idx, err := parseSelection("2-4", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, idx)
}

func TestParseSelection_CSV(t *testing.T) {
	idx, err := parseSelection("1, 3, 5", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, idx)
}

func TestParseSelection_EmptyReturnsNothing(t *testing.T) {
	idx, err := parseSelection("", 5)
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestParseSelection_OutOfRangeErrors(t *testing.T) {
	_, err := parseSelection("9", 5)
	assert.Error(t, err)
}

func TestParseSelection_InvalidRangeErrors(t *testing.T) {
	_, err := parseSelection("4-2", 5)
	assert.Error(t, err)
}

func TestParseSelection_GarbageErrors(t *testing.T) {
	_, err := parseSelection("abc", 5)
	assert.Error(t, err)
}
