package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/bus"
	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/deps"
	"github.com/leonardotrapani/segscribe/internal/models/whisper"
	"github.com/leonardotrapani/segscribe/internal/secret"
	"github.com/leonardotrapani/segscribe/internal/tui"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and local transcription dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, path, err := loadConfig()
			if err != nil {
				tui.Check(out, "config", false, err.Error())
				return err
			}
			tui.Check(out, "config", true, path)

			reg, err := modelRegistry()
			if err != nil {
				return err
			}
			keyPath, err := secret.DefaultPath()
			if err != nil {
				return err
			}
			keys, err := secret.NewFile(keyPath, zerolog.Nop())
			if err != nil {
				return err
			}

			if problems := runDoctor(out, cfg, keys, reg); problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			return nil
		},
	}
}

// runDoctor prints one line per check and returns how many failed. A
// missing API key or daemon is reported but not counted.
func runDoctor(out io.Writer, cfg *config.Config, keys secret.Store, reg *whisper.Registry) int {
	problems := 0

	if key, ok := keys.Get(); ok {
		tui.Check(out, "api key", true, tui.MaskAPIKey(key))
	} else {
		tui.Check(out, "api key", false, "not set, cloud transcription disabled (segscribe key set)")
	}

	whisperCli := deps.CheckWhisperCli(cfg.Transcription.WhisperBinary)
	if whisperCli.Installed {
		tui.Check(out, whisperCli.Name, true, strings.TrimSpace(whisperCli.Path+" "+whisperCli.Version))
	} else {
		tui.Check(out, whisperCli.Name, false, "not found in PATH, local fallback unavailable")
		problems++
	}

	installed := reg.ListInstalled()
	if len(installed) == 0 {
		tui.Check(out, "models", false, "no whisper model installed (segscribe model download base.en)")
		problems++
	} else {
		ids := make([]string, 0, len(installed))
		for _, m := range installed {
			ids = append(ids, m.ID)
		}
		tui.Check(out, "models", true, strings.Join(ids, ", "))

		locale := cfg.ToLocalConfig().Locale
		base, _ := locale.Base()
		if m, ok := reg.InstalledFor(base.String(), cfg.Transcription.WhisperModel); ok {
			tui.Check(out, "locale", true, fmt.Sprintf("%s via %s", locale, m.ID))
		} else {
			tui.Check(out, "locale", false, fmt.Sprintf("no installed model supports %s, any-language fallback will be used", locale))
		}
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Type == "desktop" {
		notifySend := deps.CheckNotifySend()
		if notifySend.Installed {
			tui.Check(out, notifySend.Name, true, notifySend.Path)
		} else {
			tui.Check(out, notifySend.Name, false, "not found, desktop notifications will fail")
			problems++
		}
	}

	if resp, err := bus.SendCommand(bus.CmdStatus); err == nil {
		tui.Check(out, "daemon", true, resp)
	} else {
		tui.Check(out, "daemon", false, "not running (segscribe serve)")
	}

	return problems
}
