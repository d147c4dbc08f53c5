// Package app implements the main application commands.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nci-user-registration",
	Short: "nci-user-registration links directory accounts to federated identities",
	Long: `nci-user-registration is a web service that lets directory users confirm
their account by email, bind it to a federated identity, and request
application access. It also serves the operator console and the XML
batch endpoints consumed by the provisioning jobs.`,
	Args: cobra.OnlyValidArgs,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
