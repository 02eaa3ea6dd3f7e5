package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRelease(t *testing.T) {
	cases := []struct {
		release string
		want    Version
	}{
		{"5.15.0-91-generic", Version{5, 15, 0}},
		{"6.1.55+", Version{6, 1, 55}},
		{"4.19", Version{4, 19, 0}},
		{"6.8.0-rc3", Version{6, 8, 0}},
		{" 5.4.268-1.el8 \n", Version{5, 4, 268}},
	}
	for _, tc := range cases {
		got, err := ParseRelease(tc.release)
		require.NoError(t, err, tc.release)
		require.Equal(t, tc.want, got, tc.release)
	}

	for _, bad := range []string{"", "linux", "5"} {
		_, err := ParseRelease(bad)
		require.Error(t, err, bad)
	}
}

func TestVersionLess(t *testing.T) {
	require.True(t, Version{5, 12, 19}.Less(Version{5, 13, 0}))
	require.True(t, Version{4, 20, 0}.Less(Version{5, 0, 0}))
	require.False(t, Version{5, 13, 0}.Less(Version{5, 13, 0}))
	require.False(t, Version{6, 0, 0}.Less(Version{5, 19, 9}))
	require.Equal(t, "5.13.0", Version{5, 13, 0}.String())
}
