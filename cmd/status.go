package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/faceless-pipeline/internal/checkpoint"
	"github.com/MimeLyc/faceless-pipeline/internal/script"
)

// checkpointLister is implemented by the database stores.
type checkpointLister interface {
	ListCheckpoints(ctx context.Context, limit int) ([]*checkpoint.Checkpoint, error)
}

func newStatusCmd() *cobra.Command {
	var scriptPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint of a script, or the latest checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), scriptPath, limit)
		},
	}
	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "Path to the script JSON file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Checkpoints to list without --script (sqlite and postgres only)")
	return cmd
}

func showStatus(ctx context.Context, out io.Writer, scriptPath string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if scriptPath == "" {
		lister, ok := st.checkpoints.(checkpointLister)
		if !ok {
			return errors.New("--script is required with the file storage backend")
		}
		list, err := lister.ListCheckpoints(ctx, limit)
		if err != nil {
			return err
		}
		for _, cp := range list {
			fmt.Fprintf(out, "%-22s %-10s %s\n", cp.Status, cp.UpdatedAt.Format("2006-01-02 15:04"), cp.ScriptPath)
		}
		return nil
	}

	sc, err := script.Load(scriptPath)
	if err != nil {
		return err
	}
	store, err := st.checkpointStore(cfg, sc.Niche)
	if err != nil {
		return err
	}
	cp, err := store.Load(ctx, sc.Key())
	if errors.Is(err, checkpoint.ErrNotFound) {
		fmt.Fprintf(out, "No checkpoint for %q; the script has not run yet.\n", sc.Title)
		return nil
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
