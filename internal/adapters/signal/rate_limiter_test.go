package signal

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRoomRateLimiterWithClock(2, 10*time.Second, clk)

	require.True(t, rl.Allow("doctor:a"))
	clk.Add(time.Second)
	require.True(t, rl.Allow("doctor:a"))
	require.False(t, rl.Allow("doctor:a"))
	require.True(t, rl.Allow("patient:b"), "keys are independent")

	clk.Add(9500 * time.Millisecond)
	require.True(t, rl.Allow("doctor:a"), "first attempt left the window")
	require.False(t, rl.Allow("doctor:a"))
}

func TestCredentialKeyHidesToken(t *testing.T) {
	c := credentials{Token: "secret-token", Role: "doctor"}
	key := c.key()
	require.NotContains(t, key, "secret-token")
	require.Equal(t, key, credentials{Token: "secret-token", Role: "doctor"}.key())
	require.NotEqual(t, key, credentials{Token: "secret-token", Role: "patient"}.key())
}
