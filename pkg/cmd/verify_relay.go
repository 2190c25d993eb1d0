package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/mail"
)

type relayVerifier interface {
	Verify(ctx context.Context, cfg *v1alpha1.MailConfig) error
}

type verifyReport struct {
	Relay    string `json:"relay"`
	Mode     string `json:"mode"`
	Verified bool   `json:"verified"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewVerifyRelayCommand checks that a relay accepts an encrypted session and,
// when credentials are configured, the login. No message is sent.
func NewVerifyRelayCommand() *cobra.Command {
	return newVerifyRelayCommand(nil)
}

func newVerifyRelayCommand(verifier relayVerifier) *cobra.Command {
	var (
		file    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify-relay",
		Short: "Open a session to the configured relay and authenticate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadMailConfig(file)
			if err != nil {
				return err
			}
			if res := v1alpha1.ValidateConfig(cfg); !res.IsValid() {
				for _, msg := range res.ErrorMessages() {
					_, _ = fmt.Fprintf(rt.Writer(), "error: %s\n", msg)
				}
				return ErrInvalidMailConfig
			}

			v := verifier
			if v == nil {
				logger, err := rt.Logger()
				if err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
				opts := mail.Options{
					AttemptTimeout: timeout,
					MaxAttempts:    1,
					InitialBackoff: mail.DefaultInitialBackoff,
				}
				v = mail.NewTransport(logger.Sugar(), mail.WithOptions(opts))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
			defer cancel()
			verr := v.Verify(ctx, cfg)

			report := verifyReport{Relay: cfg.Address(), Mode: cfg.Mode(), Verified: verr == nil}
			if verr != nil {
				report.Kind = string(mail.KindOf(verr))
				report.Error = verr.Error()
			}

			if format := rt.OutputFormat(); format != formatText {
				if err := writeObject(rt.Writer(), format, report); err != nil {
					return err
				}
			} else if verr == nil {
				_, _ = fmt.Fprintf(rt.Writer(), "%s (%s): verified\n", report.Relay, report.Mode)
			} else {
				_, _ = fmt.Fprintf(rt.Writer(), "%s (%s): %s: %s\n", report.Relay, report.Mode, report.Kind, report.Error)
			}

			if verr != nil {
				return errors.New("relay verification failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Relay configuration file (YAML or JSON)")
	cmd.Flags().DurationVar(&timeout, "timeout", mail.DefaultAttemptTimeout, "Timeout for the relay session")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
