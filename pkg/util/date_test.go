package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2020, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2020-03-09", "2020-03-09T00:00:00Z", "2020-03-09T01:00:00+01:00", "1583712000"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}

	for _, in := range []string{"", "March", "-5", "2020-13-01"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}
