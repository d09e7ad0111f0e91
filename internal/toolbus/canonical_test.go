package toolbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsObjectKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, out)
}

func TestCanonicalize_PreservesArrayOrder(t *testing.T) {
	out, err := Canonicalize([]byte(`{"xs":[3,1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"xs":[3,1,2]}`, out)
}

func TestCanonicalize_IntegerStaysInteger(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":3}`, out)
}

func TestCanonicalize_FloatGetsShortestRoundTrip(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":3.140000}`))
	require.NoError(t, err)
	assert.Equal(t, `{"n":3.14}`, out)
}

func TestCanonicalize_StringsNormalizedToNFC(t *testing.T) {
	// "e" + combining acute accent (NFD) should canonicalize to the
	// single precomposed "é" (NFC).
	nfd := "é"
	out, err := Canonicalize([]byte(`{"s":"` + nfd + `"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"s":"é"}`, out)
}

func TestCanonicalize_EquivalentDocumentsProduceSameOutput(t *testing.T) {
	a, err := Canonicalize([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_RejectsInvalidJSON(t *testing.T) {
	_, err := Canonicalize([]byte(`{not json`))
	assert.Error(t, err)
}

func TestRequestHash_DeterministicForEquivalentArguments(t *testing.T) {
	argsA, _ := Canonicalize([]byte(`{"x":1,"y":2}`))
	argsB, _ := Canonicalize([]byte(`{"y":2,"x":1}`))

	hashA := RequestHash("my_tool", argsA)
	hashB := RequestHash("my_tool", argsB)
	assert.Equal(t, hashA, hashB)
}

func TestRequestHash_DiffersByToolName(t *testing.T) {
	args, _ := Canonicalize([]byte(`{"x":1}`))
	assert.NotEqual(t, RequestHash("tool_a", args), RequestHash("tool_b", args))
}
