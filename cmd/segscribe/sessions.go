package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/daemon"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/tui"
)

func openStore(cfg *config.Config) (*store.SQLite, error) {
	path := cfg.Database.Path
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return store.Open(path)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and delete recorded sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd(), sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var ascending bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := db.Sessions(cmd.Context(), !ascending)
			if err != nil {
				return err
			}
			tui.SessionList(cmd.OutOrStdout(), sessions, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&ascending, "asc", false, "list oldest sessions first")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	var transcriptOnly bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's segments and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sess, err := db.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if transcriptOnly {
				fmt.Fprint(cmd.OutOrStdout(), sess.Transcript())
				return nil
			}
			tui.SessionDetail(cmd.OutOrStdout(), sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&transcriptOnly, "transcript", false, "print only the plain transcript")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session, its segments and their audio files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sess, err := db.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !yes {
				ok, err := tui.Confirm(fmt.Sprintf("Delete %q?", sess.Title),
					fmt.Sprintf("%d segments and their audio will be removed.", len(sess.Segments)))
				if err != nil || !ok {
					return err
				}
			}

			files, err := daemon.OpenStorage(cfg)
			if err != nil {
				return err
			}
			if err := deleteSession(cmd.Context(), cmd.ErrOrStderr(), db, files, sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// deleteSession removes audio best-effort, then the records.
func deleteSession(ctx context.Context, warn io.Writer, db store.Gateway, files storage.FileStorage, sess *store.Session) error {
	var failed int
	for _, seg := range sess.Segments {
		if err := files.Remove(ctx, seg.AudioPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			failed++
		}
	}
	if sess.AudioPath != "" {
		if err := files.Remove(ctx, sess.AudioPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintln(warn, tui.StyleWarning.Render(fmt.Sprintf("warning: %d audio files could not be removed", failed)))
	}
	return db.DeleteSession(ctx, sess.ID)
}
