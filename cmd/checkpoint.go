package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// newCheckpointCmd groups operator commands for the resume checkpoint.
func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or change the resume checkpoint",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last attempted cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cursor, ok, err := appInstance.Checkpoints().Read(cmd.Context())
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cursor.String())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <cursor>",
		Short: "Make the next run resume at cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parse cursor %q: %w", args[0], err)
			}
			cursor := harvest.Cursor(n)
			if !cursor.Valid() {
				return fmt.Errorf("%w: got %d", harvest.ErrInvalidCursor, n)
			}
			if err := appInstance.Checkpoints().Write(cmd.Context(), cursor); err != nil {
				return fmt.Errorf("write checkpoint: %w", err)
			}
			appInstance.Logger().Info("checkpoint set", zap.Int("cursor", n))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the checkpoint so the next run starts from the first record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Checkpoints().Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear checkpoint: %w", err)
			}
			appInstance.Logger().Info("checkpoint cleared")
			return nil
		},
	})
	return cmd
}
