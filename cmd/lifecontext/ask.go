package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	agentcore "github.com/LifeContext/lifecontext-sub000/internal/agent/core"
)

func askCMD(cfgPath *string) *cobra.Command {
	var (
		session       string
		maxIterations int
		noTools       bool
		optimize      bool
		pageURL       string
		asJSON        bool
	)
	ask := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.General)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			useTools := !noTools
			stream := !asJSON
			req := agentcore.Request{
				Query:               strings.Join(args, " "),
				SessionID:           session,
				UseTools:            &useTools,
				MaxIterations:       maxIterations,
				StreamFinalResponse: &stream,
				OptimizePrompt:      optimize,
			}
			if pageURL != "" {
				req.PageContext = &agentcore.PageContext{URL: pageURL}
			}

			out := cmd.OutOrStdout()
			streamed := false
			resp := a.orch.Stream(cmd.Context(), req, func(delta string) error {
				streamed = true
				_, err := fmt.Fprint(out, delta)
				return err
			})
			logger.Debug("query answered",
				zap.Bool("success", resp.Success),
				zap.Int("iterations", resp.Iterations),
				zap.Int("context_items", resp.ContextItemsCount),
				zap.Duration("took", resp.Duration))

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if streamed && resp.Success && !resp.HasScheduleConflict {
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, resp.String())
			}
			if !resp.Success {
				return fmt.Errorf("%s", resp.Error)
			}
			return nil
		},
	}
	ask.Flags().StringVar(&session, "session", "cli", "session id")
	ask.Flags().IntVar(&maxIterations, "max-iterations", 0, "planning rounds (default agents.max_iterations)")
	ask.Flags().BoolVar(&noTools, "no-tools", false, "answer without calling capabilities")
	ask.Flags().BoolVar(&optimize, "optimize", false, "rewrite the query for retrieval first")
	ask.Flags().StringVar(&pageURL, "page-url", "", "URL of the page being viewed")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return ask
}
