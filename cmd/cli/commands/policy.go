package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/policy"
)

// GetPolicyCmd returns the policy command. Its subcommands run locally and never
// contact the server.
func GetPolicyCmd() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with security policy files",
		// overrides the root hook so no API client is built
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
	policyCmd.AddCommand(newPolicyCheckCmd())
	return policyCmd
}

func newPolicyCheckCmd() *cobra.Command {
	var (
		policyFile  string
		payloadFile string
		kind        string
		payload     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a job against a security policy",
		Long: `Load a security policy and run the validator against a job built from --kind
and a payload. The command fails when the job would be denied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pol, err := policy.LoadFile(policyFile)
			if err != nil {
				return err
			}
			jobKind, err := models.ParseJobKind(kind)
			if err != nil {
				return err
			}

			job := models.Job{ID: "policy-check", Kind: jobKind, Payload: models.Payload{}}
			if payloadFile != "" {
				// #nosec G304 -- path is supplied by the operator
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("error reading payload file: %w", err)
				}
				if err := json.Unmarshal(data, &job.Payload); err != nil {
					return fmt.Errorf("error parsing payload file: %w", err)
				}
			}
			for k, v := range payload {
				job.Payload[k] = v
			}

			decision := policy.NewValidator(pol, audit.New()).Validate(context.Background(), job)
			if err := printJSON(cmd, decision); err != nil {
				return err
			}
			if !decision.Allowed {
				return fmt.Errorf("job denied: %s", decision.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyFile, "policy", "", "Security policy file (default policy when empty)")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Operation kind")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "JSON object of payload fields")
	cmd.Flags().StringToStringVar(&payload, "payload", nil, "Payload fields as key=value pairs")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
