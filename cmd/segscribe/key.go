package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/secret"
	"github.com/leonardotrapani/segscribe/internal/tui"
)

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the cloud transcription API key",
	}
	cmd.AddCommand(keySetCmd(), keyShowCmd(), keyDeleteCmd())
	return cmd
}

func openKeyFile() (*secret.File, string, error) {
	path, err := secret.DefaultPath()
	if err != nil {
		return nil, "", err
	}
	f, err := secret.NewFile(path, zerolog.Nop())
	if err != nil {
		return nil, path, err
	}
	return f, path, nil
}

func keySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the API key (prompts without echo)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, path, err := openKeyFile()
			if err != nil {
				return err
			}
			key, err := tui.InputAPIKey()
			if err != nil {
				return err
			}
			if err := keys.Set(key); err != nil {
				return fmt.Errorf("failed to save key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s key saved to %s\n", tui.StyleSuccess.Render("✓"), path)
			return nil
		},
	}
}

func keyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured API key, masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, _, err := openKeyFile()
			if err != nil {
				return err
			}
			key, ok := keys.Get()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), tui.StyleWarning.Render("no API key configured; segments will be transcribed locally"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.MaskAPIKey(key))
			return nil
		},
	}
}

func keyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, _, err := openKeyFile()
			if err != nil {
				return err
			}
			if err := keys.Delete(); err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "key deleted")
			return nil
		},
	}
}
