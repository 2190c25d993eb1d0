package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/telekom/mailguard/api/v1alpha1"
)

// ErrInvalidMailConfig is returned when a mail configuration fails validation.
var ErrInvalidMailConfig = errors.New("mail configuration is invalid")

type validationReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// loadMailConfig reads a relay configuration in YAML or JSON.
func loadMailConfig(path string) (*v1alpha1.MailConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var cfg v1alpha1.MailConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

func NewValidateConfigCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a relay configuration without storing it",
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

			res := v1alpha1.ValidateConfig(cfg)
			report := validationReport{
				File:     file,
				Valid:    res.IsValid(),
				Errors:   res.ErrorMessages(),
				Warnings: res.Warnings,
			}

			if format := rt.OutputFormat(); format != formatText {
				if err := writeObject(rt.Writer(), format, report); err != nil {
					return err
				}
			} else {
				w := rt.Writer()
				for _, msg := range report.Errors {
					_, _ = fmt.Fprintf(w, "error: %s\n", msg)
				}
				for _, msg := range report.Warnings {
					_, _ = fmt.Fprintf(w, "warning: %s\n", msg)
				}
				if report.Valid {
					_, _ = fmt.Fprintf(w, "%s: valid (%s, %s)\n", file, cfg.Address(), cfg.Mode())
				}
			}

			if !report.Valid {
				return ErrInvalidMailConfig
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Relay configuration file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
