package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/segscribe/internal/models/whisper"
	"github.com/leonardotrapani/segscribe/internal/tui"
)

func modelRegistry() (*whisper.Registry, error) {
	dir, err := whisper.DefaultDir()
	if err != nil {
		return nil, err
	}
	return whisper.NewRegistry(dir), nil
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage local whisper models",
	}

	cmd.AddCommand(modelListCmd())
	cmd.AddCommand(modelDownloadCmd())
	cmd.AddCommand(modelRemoveCmd())

	return cmd
}

func modelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List whisper models and which are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := modelRegistry()
			if err != nil {
				return err
			}
			tui.ModelList(cmd.OutOrStdout(), whisper.ListModels(), reg.IsInstalled)
			return nil
		},
	}
}

func modelDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <model-name>",
		Short: "Download a whisper model (e.g. base.en)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := modelRegistry()
			if err != nil {
				return err
			}
			modelName := args[0]
			model := whisper.GetModel(modelName)
			if model == nil {
				return fmt.Errorf("unknown model: %s", modelName)
			}

			out := cmd.OutOrStdout()
			if reg.IsInstalled(modelName) {
				fmt.Fprintf(out, "model '%s' is already installed at %s\n", modelName, reg.Path(modelName))
				return nil
			}

			fmt.Fprintf(out, "downloading %s (%s)...\n", modelName, model.Size)
			var lastPercent int
			err = reg.Download(cmd.Context(), modelName, func(downloaded, total int64) {
				if total > 0 {
					percent := int(downloaded * 100 / total)
					if percent >= lastPercent+10 {
						fmt.Fprintf(out, "%d%% (%s) ", percent, humanize.Bytes(uint64(downloaded)))
						lastPercent = percent
					}
				}
			})
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			fmt.Fprintf(out, "\ndownload complete: %s\n", reg.Path(modelName))
			return nil
		},
	}
}

func modelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model-name>",
		Short: "Remove a downloaded whisper model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := modelRegistry()
			if err != nil {
				return err
			}
			modelName := args[0]
			if whisper.GetModel(modelName) == nil {
				return fmt.Errorf("unknown model: %s", modelName)
			}
			if !reg.IsInstalled(modelName) {
				return fmt.Errorf("model '%s' is not installed", modelName)
			}
			if err := reg.Remove(modelName); err != nil {
				return fmt.Errorf("failed to remove model: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model '%s' removed successfully\n", modelName)
			return nil
		},
	}
}
