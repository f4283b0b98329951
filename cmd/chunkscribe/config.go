package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/houzhh15/chunkscribe/internal/config"
)

// addGlobalFlags 注册所有子命令共享的标志
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML 配置文件路径")
	cmd.PersistentFlags().String("log-level", "", "日志级别 debug|info|warn|error")
	cmd.PersistentFlags().String("work-dir", "", "临时切片目录")
	cmd.PersistentFlags().String("db", "", "运行历史 SQLite 文件")
}

// loadConfig 配置文件 → 环境变量 → 命令行标志（优先级从低到高）
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("work-dir"); v != "" {
		cfg.WorkDir = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Store.Path = v
	}
	if f := cmd.Flags().Lookup("language"); f != nil && f.Changed {
		cfg.Language = f.Value.String()
	}
	if f := cmd.Flags().Lookup("concurrency"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("concurrency")
		cfg.Concurrency = n
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		cfg.Server.Addr = f.Value.String()
	}

	if cfg.Language == "" {
		cfg.Language = "auto"
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// storePath 未配置时放在工作目录下
func storePath(cfg *config.Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return filepath.Join(cfg.WorkDir, "chunkscribe.db")
}
