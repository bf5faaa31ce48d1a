package num_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShiningRay/exchange-engine/internal/num"
)

func TestParseCanonicalRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "30000", "0.5", "1.5", "0.00000001", "49900", "123456.789"} {
		d, err := num.Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, d.String())
	}
}

func TestParseNormalizesTrailingZeros(t *testing.T) {
	d, err := num.Parse("30000.0")
	require.NoError(t, err)
	assert.Equal(t, "30000", d.String())

	d, err = num.Parse("1.50")
	require.NoError(t, err)
	assert.Equal(t, "1.5", d.String())
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "abc", "1e5", "1E-3", "0.000000001", "1.123456789"} {
		_, err := num.Parse(s)
		assert.Error(t, err, s)
	}
}

func TestArithmetic(t *testing.T) {
	a := num.MustParse("1.5")
	b := num.MustParse("1.0")
	assert.Equal(t, "0.5", a.Sub(b).String())
	assert.Equal(t, "2.5", a.Add(b).String())
	assert.Equal(t, "1", num.Min(a, b).String())
	assert.True(t, b.LessThan(a))
	assert.True(t, a.GreaterThan(b))
	assert.True(t, a.Sub(a).IsZero())
	assert.True(t, a.IsPositive())
	assert.False(t, num.Zero.IsPositive())
}

func TestNegativeNotPositive(t *testing.T) {
	d, err := num.Parse("-3")
	require.NoError(t, err)
	assert.False(t, d.IsPositive())
}

func TestJSONRoundTrip(t *testing.T) {
	d := num.MustParse("30000.5")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"30000.5"`, string(b))

	var back num.Decimal
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, d.Equal(back))

	// bare numbers are accepted too
	require.NoError(t, json.Unmarshal([]byte(`42.25`), &back))
	assert.Equal(t, "42.25", back.String())
}
