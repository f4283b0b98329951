package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/internal/output"
	"github.com/houzhh15/chunkscribe/internal/pipeline"
	"github.com/houzhh15/chunkscribe/internal/progress"
)

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe one audio file",
		Args:  cobra.ExactArgs(1),
		RunE:  runTranscribe,
	}
	cmd.Flags().String("language", "auto", "语言代码，auto 表示自动检测")
	cmd.Flags().Int("concurrency", 0, "并发转写数，0 表示自动")
	cmd.Flags().Bool("single-shot", false, "不切片，整段转写")
	cmd.Flags().Bool("require-text", false, "结果为空时返回错误")
	cmd.Flags().String("format", "text", "输出格式 text|json|srt|vtt")
	cmd.Flags().StringP("output", "o", "", "输出文件，默认标准输出")
	cmd.Flags().BoolP("quiet", "q", false, "不在 stderr 打印进度")
	return cmd
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(mustString(cmd, "format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	opts := transcribeOptions(cmd, cfg.Language, cfg.Concurrency)

	var onProgress progress.Func
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		onProgress = progressPrinter(cmd.ErrOrStderr())
	}

	res, err := a.pipeline.Run(ctx, args[0], opts, onProgress)
	if onProgress != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return err
	}

	for _, w := range res.Metadata.Warnings {
		a.logger.Warn("transcript quality", "warning", w)
	}
	return writeResult(cmd, format, res)
}

// transcribeOptions maps flags onto pipeline options; language and concurrency
// come from the merged config so file and env values apply when flags are unset.
func transcribeOptions(cmd *cobra.Command, language string, concurrency int) pipeline.Options {
	singleShot, _ := cmd.Flags().GetBool("single-shot")
	requireText, _ := cmd.Flags().GetBool("require-text")
	return pipeline.Options{
		Language:        language,
		MaxConcurrency:  concurrency,
		SingleShot:      singleShot,
		RequireNonEmpty: requireText,
	}
}

func writeResult(cmd *cobra.Command, format output.Format, res *pipeline.Result) error {
	var w io.Writer = cmd.OutOrStdout()
	if path := mustString(cmd, "output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return output.Write(w, format, res.Transcript, &res.Metadata)
}

// progressPrinter 在同一行刷新整体进度
func progressPrinter(w io.Writer) progress.Func {
	return func(fraction float64, stage string) {
		fmt.Fprintf(w, "\r%-10s %5.1f%%", stage, fraction*100)
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
