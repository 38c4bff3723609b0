package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/output"
)

var checkpointRmAll bool

var errCheckpointRmArgs = errors.New("give either a checkpoint id or --all")

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"ckpt"},
	Short:   "Manage file checkpoints",
	Long: `Create, list, restore and delete checkpoints of a file or notebook.

Checkpoints are stored next to the file under "<file>/.checkpoints/<id>" and
are listed newest first.`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Snapshot the current content of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:     "list <path>",
	Aliases: []string{"ls"},
	Short:   "List checkpoints, newest first",
	Args:    cobra.ExactArgs(1),
	RunE:    runCheckpointList,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <path> <id>",
	Short: "Replace a file with one of its checkpoints",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRestore,
}

var checkpointRmCmd = &cobra.Command{
	Use:   "rm <path> [id]",
	Short: "Delete a checkpoint, or all of them with --all",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCheckpointRm,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd, checkpointListCmd, checkpointRestoreCmd, checkpointRmCmd)
	checkpointRmCmd.Flags().BoolVar(&checkpointRmAll, "all", false, "Delete every checkpoint of the file")
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		cp, err := m.CreateCheckpoint(ctx, args[0])
		if err != nil {
			return storeError("checkpoint create failed", err)
		}
		return w.WriteCheckpoint(ctx, output.NewCheckpointRecord(args[0], *cp))
	})
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		list, err := m.ListCheckpoints(ctx, args[0])
		if err != nil {
			return storeError("checkpoint list failed", err)
		}
		for _, cp := range list {
			if err := w.WriteCheckpoint(ctx, output.NewCheckpointRecord(args[0], cp)); err != nil {
				return err
			}
		}
		return nil
	})
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		if err := m.RestoreCheckpoint(ctx, args[0], args[1]); err != nil {
			return storeError("checkpoint restore failed", err)
		}
		observability.CLILogger.Info("Restored checkpoint", zap.String("path", args[0]), zap.String("id", args[1]))
		return nil
	})
}

func runCheckpointRm(cmd *cobra.Command, args []string) error {
	if checkpointRmAll == (len(args) == 2) {
		return exitError(ExitInvalidArgument, "Invalid arguments", errCheckpointRmArgs)
	}
	return withManager(cmd, func(ctx context.Context, m *contents.Manager, w output.Writer) error {
		if checkpointRmAll {
			n, err := m.DeleteAllCheckpoints(ctx, args[0])
			if err != nil {
				return storeError("checkpoint rm failed", err)
			}
			observability.CLILogger.Info("Deleted checkpoints", zap.String("path", args[0]), zap.Int("count", n))
			return nil
		}
		if err := m.DeleteCheckpoint(ctx, args[0], args[1]); err != nil {
			return storeError("checkpoint rm failed", err)
		}
		return nil
	})
}
