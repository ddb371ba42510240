package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Default configuration file path, overridable via --config or the
// MUSOLSONG_CONFIG environment variable.
const defaultConfigPath = "configs/config.yaml"

// Options holds the root command's flags.
type Options struct {
	ConfigPath    string
	Verbose       bool
	SequenceYAML  string
	ProjectName   string
	ProjectNumber int
	ValidateOnly  bool
}

// NewRootCommand creates the musolsong command.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "musolsong --sequence-yaml FILE",
		Short: "MUSOL/SONG sequence controller",
		Long: `Drives synchronised observation sequences across the MUSOL solar
polarimeter and the SONG spectrograph.

A sequence is a YAML file of calibration and observation steps. Each
step arms its target instruments, triggers them together, and waits
for all of them to report ready before the next step begins. The run
report is written to stdout as JSON; logs go to stderr.

Example:
  musolsong --sequence-yaml sequences/survey.yaml
  musolsong --sequence-yaml sequences/survey.yaml --validate-only`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SequenceYAML == "" {
				return errors.New("no sequence file given: interactive operation belongs to the desktop front-end, this controller requires --sequence-yaml")
			}
			return runSequence(opts)
		},
	}

	cmd.Flags().StringVar(&opts.SequenceYAML, "sequence-yaml", "", "path to the sequence YAML file")
	cmd.Flags().StringVar(&opts.ProjectName, "project-name", "", "override the document's project_name")
	cmd.Flags().IntVar(&opts.ProjectNumber, "project-number", 0, "override the document's project_number")
	cmd.Flags().BoolVar(&opts.ValidateOnly, "validate-only", false, "validate the sequence and exit without executing")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "",
		fmt.Sprintf("path to config file (default %q)", defaultConfigPath))
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewVersionCommand())

	return cmd
}
