package ctyconv

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestToNative(t *testing.T) {
	t.Parallel()

	val := cty.ObjectVal(map[string]cty.Value{
		"name":  cty.StringVal("acme"),
		"size":  cty.NumberIntVal(3),
		"ok":    cty.True,
		"tags":  cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.NumberIntVal(1)}),
		"empty": cty.NullVal(cty.String),
	})

	got, err := ToNative(val)
	require.NoError(t, err)

	want := map[string]any{
		"name":  "acme",
		"size":  float64(3),
		"ok":    true,
		"tags":  []any{"a", float64(1)},
		"empty": nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToNative mismatch (-want +got):\n%s", diff)
	}
}

func TestFromNative_RoundTrip(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"url":     "http://example.test",
		"retries": float64(2),
		"flags":   []any{true, "x"},
		"nested":  map[string]any{"k": "v"},
	}

	val, err := FromNative(in)
	require.NoError(t, err)
	assert.True(t, val.Type().IsObjectType())

	back, err := ToNative(val)
	require.NoError(t, err)
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromNative_TypedMap(t *testing.T) {
	t.Parallel()

	val, err := FromNative(map[string]string{"a": "1"})
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("1"), val.GetAttr("a"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	type input struct {
		URL      string            `cty:"url"`
		Method   string            `cty:"method"`
		Count    int               `cty:"count"`
		Timeout  time.Duration     `cty:"timeout"`
		Headers  map[string]string `cty:"headers"`
		Data     map[string]any    `cty:"data"`
		Anything any               `cty:"anything"`
		List     []string          `cty:"list"`
		Raw      cty.Value         `cty:"raw"`
		Skipped  string
	}

	t.Run("decodes every supported shape", func(t *testing.T) {
		t.Parallel()
		// Arrange
		val := cty.ObjectVal(map[string]cty.Value{
			"url":      cty.StringVal("http://x"),
			"count":    cty.StringVal("4"),
			"timeout":  cty.StringVal("1500ms"),
			"headers":  cty.ObjectVal(map[string]cty.Value{"Accept": cty.StringVal("json")}),
			"data":     cty.ObjectVal(map[string]cty.Value{"n": cty.NumberIntVal(1)}),
			"anything": cty.True,
			"list":     cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
			"raw":      cty.NumberIntVal(7),
			"extra":    cty.StringVal("ignored"),
		})
		in := input{Method: "GET"}

		// Act
		err := Decode(context.Background(), val, &in)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "http://x", in.URL)
		assert.Equal(t, "GET", in.Method, "defaults survive missing attributes")
		assert.Equal(t, 4, in.Count)
		assert.Equal(t, 1500*time.Millisecond, in.Timeout)
		assert.Equal(t, map[string]string{"Accept": "json"}, in.Headers)
		assert.Equal(t, map[string]any{"n": float64(1)}, in.Data)
		assert.Equal(t, true, in.Anything)
		assert.Equal(t, []string{"a", "b"}, in.List)
		assert.True(t, in.Raw.RawEquals(cty.NumberIntVal(7)))
	})

	t.Run("numeric durations are seconds", func(t *testing.T) {
		t.Parallel()
		var in input
		err := Decode(context.Background(), cty.ObjectVal(map[string]cty.Value{"timeout": cty.NumberFloatVal(2.5)}), &in)
		require.NoError(t, err)
		assert.Equal(t, 2500*time.Millisecond, in.Timeout)
	})

	t.Run("rejects mismatched types", func(t *testing.T) {
		t.Parallel()
		var in input
		err := Decode(context.Background(), cty.ObjectVal(map[string]cty.Value{"count": cty.StringVal("many")}), &in)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "count")
	})

	t.Run("requires a pointer", func(t *testing.T) {
		t.Parallel()
		require.Error(t, Decode(context.Background(), cty.EmptyObjectVal, input{}))
	})
}
