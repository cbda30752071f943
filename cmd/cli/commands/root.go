package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/constants"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/client"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress = "server-address"
)

var (
	// apiClient is the shared API client instance
	apiClient client.Client
	// serverAddress holds the target API server address. Flag parsing sets this.
	serverAddress string
)

// initClient initializes the API client
func initClient() error {
	opts := client.DefaultOptions()
	opts.BaseURL = serverAddress

	var err error
	apiClient, err = client.NewClient(opts)
	return err
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", routes.DefaultBaseURL,
		"Address of the ServiceGrid API server (env: "+constants.EnvServerAddress+")")

	RootCmd.AddCommand(GetRequestsCmd())
	RootCmd.AddCommand(GetJobsCmd())
	RootCmd.AddCommand(GetAuditCmd())
	RootCmd.AddCommand(GetPolicyCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "servicegrid",
	Short: "ServiceGrid CLI - submit and track automated service requests",
	Long: `ServiceGrid CLI talks to the automation engine API to submit service requests,
decide approvals, follow jobs and inspect the audit ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Flag > env var > default
		if !cmd.Flags().Changed(flagServerAddress) {
			if envAddr := os.Getenv(constants.EnvServerAddress); envAddr != "" {
				serverAddress = envAddr
			}
		}
		if serverAddress == "" {
			return fmt.Errorf("server address cannot be empty")
		}
		return initClient()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}

// printJSON pretty prints v to the command's output
func printJSON(cmd *cobra.Command, v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(prettyJSON))
	return nil
}
