package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LifeContext/lifecontext-sub000/internal/server"
	"github.com/LifeContext/lifecontext-sub000/internal/store"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret not configured")
			}
			signed, err := server.SignJWT(args[0], []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return token
}

func tipCMD(cfgPath *string) *cobra.Command {
	var session, title string
	tip := &cobra.Command{
		Use:   "tip <content>",
		Short: "Save a tip for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(cmd.Context(), cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.CreateTip(cmd.Context(), store.TipRecord{SessionID: session, Title: title, Content: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	tip.Flags().StringVar(&session, "session", "cli", "session id")
	tip.Flags().StringVar(&title, "title", "", "optional title")
	return tip
}
