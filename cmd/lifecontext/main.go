package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LifeContext/lifecontext-sub000/config"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "lifecontext",
		Short:         "Personal-context question answering backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")

	root.AddCommand(serveCMD(&cfgPath), migrateCMD(&cfgPath), askCMD(&cfgPath), tokenCMD(&cfgPath), tipCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from general settings. Debug mode
// switches to the console encoder.
func newLogger(g config.GeneralConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if g.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(g.LogLevel); s != "" {
		if err := level.Set(s); err != nil {
			return nil, fmt.Errorf("general.log_level: %w", err)
		}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
