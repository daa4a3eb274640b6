package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("SPOKESCAN_TEST_INT", "nope")
	t.Setenv("SPOKESCAN_TEST_DUR", "90s")
	t.Setenv("SPOKESCAN_TEST_BOOL", "true")

	require.Equal(t, 7, EnvInt("SPOKESCAN_TEST_INT", 7))
	require.Equal(t, 90*time.Second, EnvDuration("SPOKESCAN_TEST_DUR", time.Second))
	require.True(t, EnvBool("SPOKESCAN_TEST_BOOL", false))
	require.Equal(t, "def", Env("SPOKESCAN_TEST_MISSING", "def"))
	require.Equal(t, int64(0), EnvInt64("SPOKESCAN_TEST_MISSING", 0))
}

func TestDedup(t *testing.T) {
	in := []string{"http://a/", "http://a", "http://b"}
	require.Equal(t, []string{"http://a", "http://b"}, Dedup(in))
}
