package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "doctor", cfg.Call.Role)
	require.Equal(t, 10*time.Second, cfg.Call.GraceWindow)
	require.Equal(t, "device", cfg.Call.Media.Source)
	require.Len(t, cfg.Call.ICEServers, 1)
	require.Equal(t, 5, cfg.Relay.JoinLimit)
}

func TestLoadFileOverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
port: 9090
call:
  role: patient
  grace_window: 3s
  ice_servers:
    - urls: ["turn:turn.example.org:3478"]
      username: u
      credential: p
  media:
    source: synthetic
    video: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONSULT_CALL_AUTH_TOKEN", "from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "patient", cfg.Call.Role)
	require.Equal(t, 3*time.Second, cfg.Call.GraceWindow)
	require.Equal(t, "from-env", cfg.Call.AuthToken)
	require.Equal(t, []ICEServer{{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"}}, cfg.Call.ICEServers)
	require.False(t, cfg.Call.Media.Video)
	require.True(t, cfg.Call.Media.Audio)
}

func TestUnmarshalRejectsBadCallConfig(t *testing.T) {
	v := New()
	v.Set("call.grace_window", "0s")
	_, err := Unmarshal(v)
	require.ErrorContains(t, err, "grace_window")

	v = New()
	v.Set("call.media.source", "webcam")
	_, err = Unmarshal(v)
	require.ErrorContains(t, err, "media.source")
}
