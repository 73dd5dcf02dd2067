package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/Consult/internal/adapters/media"
	"github.com/dkeye/Consult/internal/adapters/media/device"
	"github.com/dkeye/Consult/internal/adapters/relayclient"
	"github.com/dkeye/Consult/internal/adapters/rtc"
	"github.com/dkeye/Consult/internal/app/session"
	"github.com/dkeye/Consult/internal/config"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/dkeye/Consult/internal/logging"
)

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log)

	sessCfg, err := session.ConfigFrom(cfg.Call)
	if err != nil {
		return err
	}
	room := domain.RoomID(c.String("room"))
	booking := domain.BookingID(c.String("booking"))

	transport := relayclient.New(relayclient.Config{
		URL:             cfg.Call.RelayURL,
		PingPeriod:      cfg.PingPeriod,
		ReadLimit:       cfg.ReadLimit,
		ReconnectWindow: cfg.Call.ReconnectWindow,
		JoinTimeout:     cfg.Call.JoinTimeout,
	})
	ctrl := session.New(sessCfg, session.Deps{
		Media:     mediaSource(cfg.Call.Media, sessCfg.Role),
		Engines:   rtc.NewFactory(rtc.ConfigFrom(cfg.Call), sessCfg.Role.String()),
		Transport: transport,
	})
	var last domain.SessionState
	ctrl.OnStateChange(func(s domain.Session) {
		// elapsed ticks arrive every second; only transitions are worth info
		if s.State == last {
			return
		}
		last = s.State
		logState(s)
	})

	var rec *media.Recorder
	if dir := cfg.Call.Media.RecordDir; dir != "" {
		rec, err = media.NewRecorder(dir, fmt.Sprintf("%s-%s", sessCfg.Role, booking))
		if err != nil {
			_ = ctrl.End(domain.ReasonHangup)
			return err
		}
		ctrl.OnRemoteTrack(rec.HandleTrack)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Join(ctx, room, booking); err != nil {
		<-ctrl.Done()
		return fmt.Errorf("join %s: %w", room, err)
	}
	if c.Bool("interactive") {
		go readCommands(os.Stdin, ctrl)
	}

	var deadline <-chan time.Time
	if d := c.Duration("duration"); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
		_ = ctrl.End(domain.ReasonHangup)
	case <-deadline:
		_ = ctrl.End(domain.ReasonHangup)
	case <-ctrl.Done():
	}
	<-ctrl.Done()

	if rec != nil {
		rec.Wait()
		for _, f := range rec.Files() {
			log.Info().Str("file", f).Msg("recorded remote track")
		}
	}

	snap := ctrl.Snapshot()
	switch snap.EndReason {
	case domain.ReasonHangup, domain.ReasonRemoteHangup:
		return nil
	}
	return fmt.Errorf("session ended: %s %s", snap.EndReason, snap.Err)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	v := config.New()
	file := c.String("config")
	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	}

	overrides := map[string]string{
		"role":       "call.role",
		"token":      "call.auth_token",
		"relay":      "call.relay_url",
		"source":     "call.media.source",
		"record-dir": "call.media.record_dir",
	}
	for flag, key := range overrides {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}
	if c.Bool("no-video") {
		v.Set("call.media.video", false)
	}
	return config.Unmarshal(v)
}

func mediaSource(mc config.MediaConfig, role domain.Role) core.MediaSource {
	var src core.MediaSource
	switch mc.Source {
	case "synthetic":
		src = media.NewSynthetic("consult-" + role.String())
	default:
		src = device.NewSource()
	}
	return media.NewExclusive(src)
}

func logState(s domain.Session) {
	ev := log.Info().Str("module", "call").Str("state", string(s.State)).Int64("elapsed", s.ElapsedSeconds)
	if s.Cause != domain.CauseNone {
		ev = ev.Str("cause", string(s.Cause))
	}
	if s.Ended() {
		ev = ev.Str("reason", string(s.EndReason)).Str("error", s.Err)
	}
	ev.Bool("audio", s.AudioEnabled).Bool("video", s.VideoEnabled).Msg("session")
}

// readCommands maps single-letter lines to controller calls until EOF.
func readCommands(r io.Reader, ctrl *session.Controller) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var err error
		switch strings.TrimSpace(sc.Text()) {
		case "a":
			_, err = ctrl.ToggleAudio()
		case "v":
			_, err = ctrl.ToggleVideo()
		case "q":
			err = ctrl.End(domain.ReasonHangup)
		case "s":
			logState(ctrl.Snapshot())
		case "":
		default:
			fmt.Fprintln(os.Stderr, "commands: a (audio), v (video), s (status), q (hang up)")
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("command failed")
			return
		}
	}
}
