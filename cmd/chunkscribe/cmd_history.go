package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/internal/output"
	"github.com/houzhh15/chunkscribe/internal/store"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run's transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "列出的最大条数")
	cmd.Flags().String("format", "text", "单条记录的输出格式 text|json|srt|vtt")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(ctx, storePath(cfg), log)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer st.Close()

	if len(args) == 1 {
		format, err := output.ParseFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}
		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), format, run)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTATUS\tSTARTED\tDURATION\tSEGMENTS\tSUCCESS\tAUDIO")
	for _, r := range runs {
		status := r.Status
		if r.ErrorCode != "" {
			status += " (" + r.ErrorCode + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
			r.ID, status, r.StartedAt.Local().Format(time.DateTime),
			(time.Duration(r.DurationSec) * time.Second).String(),
			r.Segments, r.SuccessRate*100, r.AudioPath)
	}
	return tw.Flush()
}

// printRun 成功的运行按格式输出转写结果，其余情况输出记录本身
func printRun(w io.Writer, format output.Format, run *store.Run) error {
	if run.Result == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	return output.Write(w, format, run.Result.Transcript, &run.Result.Metadata)
}
