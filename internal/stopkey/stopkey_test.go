package stopkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	for in, want := range map[string]Key{"": KeyEscape, "Esc": KeyEscape, " escape ": KeyEscape, "SPACE": KeySpace} {
		got, err := ParseKey(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseKey("f13")
	require.Error(t, err)
}

func TestNewRejectsUnknownKey(t *testing.T) {
	_, err := New("ctrl+q")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnavailable)
}
