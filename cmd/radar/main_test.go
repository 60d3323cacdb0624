package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/gordian-engine/radar/internal/rtest"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--rescan", "3s"}))

	env := map[string]string{
		"RADAR_MAX_ATTEMPTS": "5",
		"RADAR_RESCAN":       "9s",
		"RADAR_LINK":         "ble",
	}
	require.NoError(t, applyEnv(cmd.Flags(), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	n, err := cmd.Flags().GetInt("max-attempts")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// Command line wins.
	d, err := cmd.Flags().GetDuration("rescan")
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	l, err := cmd.Flags().GetString("link")
	require.NoError(t, err)
	require.Equal(t, "ble", l)
}

func TestApplyEnv_invalid(t *testing.T) {
	t.Parallel()

	cmd := newRunCmd()
	err := applyEnv(cmd.Flags(), func(k string) (string, bool) {
		if k == "RADAR_COOLDOWN" {
			return "soon", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "RADAR_COOLDOWN")
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	} {
		got, err := parseLogLevel(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseLogLevel("loud")
	require.Error(t, err)
}

func TestFormatPeers(t *testing.T) {
	t.Parallel()

	got := formatPeers(rtable.Snapshot{
		{Token: rtoken.New([]byte{1}), Distance: 1.234},
		{Token: rtoken.New([]byte{2}), Distance: 2, Direction: &rranging.Direction{Z: 1}},
	})
	require.Equal(t, "01@1.23m, 02@2.00m(0.00,0.00,1.00)", got)
}

func TestVersionCmd_json(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	// An explicit env file that does not exist is an error.
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version", "--json", "--env-file", "does-not-exist.env"})
	require.Error(t, root.Execute())

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, buildVersion, got["version"])
}

func TestNewLink_unknown(t *testing.T) {
	t.Parallel()

	_, err := newLink(rtest.NewLogger(t), runConfig{Link: "carrier-pigeon"})
	require.ErrorContains(t, err, "carrier-pigeon")
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := newEngine(ctx, rtest.NewLogger(t), runConfig{Engine: "none"})
	require.NoError(t, err)
	_, ok := e.LocalToken()
	require.False(t, ok)
	require.Error(t, e.Available())

	e, err = newEngine(ctx, rtest.NewLogger(t), runConfig{Engine: "sim"})
	require.NoError(t, err)
	require.NoError(t, e.Available())

	_, err = newEngine(ctx, rtest.NewLogger(t), runConfig{Engine: "oracle"})
	require.Error(t, err)
}
