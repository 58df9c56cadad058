package scalars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonSafeLong_RejectsOutOfRange(t *testing.T) {
	testcases := []struct {
		name  string
		value interface{}
		ok    bool
	}{
		{"within bound", int64(1) << 40, true},
		{"exactly at bound", jsonSafeLongBound, true},
		{"one past bound", jsonSafeLongBound + 1, false},
		{"negative within bound", -(int64(1) << 40), true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			n, ok := toInt64(tc.value)
			require.True(t, ok)
			assert.Equal(t, tc.ok, withinJSONSafeBound(n))
		})
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	encoded := EncodeCursor([]byte(`["tag","blue"]`))
	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, `["tag","blue"]`, string(decoded))
}

func TestCursor_MalformedEchoesValue(t *testing.T) {
	_, err := DecodeCursor("not-valid-base64url!!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-valid-base64url!!!")
}

func TestValidTimeZone(t *testing.T) {
	assert.True(t, ValidTimeZone("America/Los_Angeles"))
	assert.False(t, ValidTimeZone("Mars/Olympus_Mons"))
}

func TestParseDateTime_RejectsYearOutOfRange(t *testing.T) {
	_, err := parseDateTime("0000-01-01T00:00:00.000Z")
	assert.Error(t, err)
}
