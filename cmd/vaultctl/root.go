package main

import (
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/fleetvault/internal/client"
)

// cli holds state shared by every subcommand once PersistentPreRunE has run.
type cli struct {
	configFile string
	output     string
	api        *client.Client
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operate the fleetvault credential migration",
		Long: `vaultctl drives a running fleetvault server through the migration of
stored credentials from the legacy key to the enterprise key.

Settings come from flags, FLEETVAULT_SERVER / FLEETVAULT_ACTOR /
FLEETVAULT_OUTPUT, or a vaultctl.yaml in the working directory or the
user config directory.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (default: ./vaultctl.yaml or <user config>/fleetvault/vaultctl.yaml)")
	pf.String(cfgKeyServer, defaultServer, "fleetvault server base URL")
	pf.String(cfgKeyActor, "", "operator name recorded in audit entries (default: $USER)")
	pf.StringP(cfgKeyOutput, "o", defaultOutput, "output format: text, json or yaml")

	root.AddCommand(
		c.statusCmd(),
		c.backfillCmd(),
		c.validateCmd(),
		c.revertCmd(),
		c.retryFailedCmd(),
		c.readinessCmd(),
		c.auditCmd(),
	)

	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	v, err := loadConfig(c.configFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}

	c.output = v.GetString(cfgKeyOutput)
	if err := validOutput(c.output); err != nil {
		return err
	}

	c.api = client.New(v.GetString(cfgKeyServer), v.GetString(cfgKeyActor))
	return nil
}
