package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/auth"
	"procura.dev/bid-workbench/internal/report"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <bid-id>",
	Short: "Write a bid's evaluation to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		bidID := args[0]
		sess, err := a.workbench.Session(cmd.Context(), bidID)
		if err != nil {
			return err
		}
		exp, err := sess.Export()
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = fmt.Sprintf("evaluation-%s.xlsx", bidID)
		}
		if err := report.SaveWorkbook(out, exp); err != nil {
			return err
		}
		zap.L().Info("evaluation exported", zap.String("bid_id", bidID), zap.String("path", out))
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <bid-id>",
	Short: "Clear a bid's evaluation document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.workbench.Reset(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "reset bid %s", args[0])
		}
		zap.L().Info("evaluation reset", zap.String("bid_id", args[0]))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <reviewer-id>",
	Short: "Issue a reviewer token for the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		token, err := issuer.GenerateJWT(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default evaluation-<bid-id>.xlsx)")
}
