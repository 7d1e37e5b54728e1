package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryLogicalModelResolves(t *testing.T) {
	for _, id := range All() {
		spec, ok := Lookup(id)
		require.True(t, ok, "model %s missing from catalog", id)
		assert.NotEmpty(t, spec.Backend, "model %s has no backend binding", id)
	}
}

func TestLookupIsDeterministic(t *testing.T) {
	a, _ := Lookup(GeneralFast)
	b, _ := Lookup(GeneralFast)
	assert.Equal(t, a, b)
}

func TestLocationAwareMapsToFixedLightweightBackend(t *testing.T) {
	spec, ok := Lookup(LocationAware)
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash-lite", spec.Backend)
	assert.Equal(t, []Tool{ToolMapsGrounding}, spec.Tools)
}

func TestImageModelHasNoTools(t *testing.T) {
	spec, ok := Lookup(ImageGen)
	require.True(t, ok)
	assert.Empty(t, spec.Tools)
}

func TestUnknownModel(t *testing.T) {
	_, ok := Lookup("does-not-exist")
	assert.False(t, ok)
	assert.False(t, Known("does-not-exist"))
	assert.True(t, Known(Default()))
}

func TestEscalatedIsGeneralPro(t *testing.T) {
	assert.Equal(t, GeneralPro, Escalated())
}
