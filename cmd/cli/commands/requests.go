package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
)

// GetRequestsCmd returns the requests command
func GetRequestsCmd() *cobra.Command {
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "Submit and decide service requests",
	}
	requestsCmd.AddCommand(newSubmitRequestCmd())
	requestsCmd.AddCommand(newDecideRequestCmd())
	requestsCmd.AddCommand(newRequestStatusCmd())
	requestsCmd.AddCommand(newAwaitingRequestsCmd())
	return requestsCmd
}

func newSubmitRequestCmd() *cobra.Command {
	var (
		file    string
		req     workflow.Request
		kind    string
		prio    string
		payload map[string]string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a service request",
		Long: `Submit a service request either from a JSON file (--file) or from flags.
Flags given together with --file override the values read from the file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				// #nosec G304 -- path is supplied by the operator
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("error reading request file: %w", err)
				}
				var fromFile workflow.Request
				if err := json.Unmarshal(data, &fromFile); err != nil {
					return fmt.Errorf("error parsing request file: %w", err)
				}
				mergeRequest(cmd, &fromFile, req)
				req = fromFile
			}
			if kind != "" {
				k, err := models.ParseJobKind(kind)
				if err != nil {
					return err
				}
				req.Kind = k
			}
			if prio != "" {
				p, err := models.ParsePriority(prio)
				if err != nil {
					return err
				}
				req.Priority = p
			}
			if len(payload) > 0 {
				if req.Payload == nil {
					req.Payload = models.Payload{}
				}
				for k, v := range payload {
					req.Payload[k] = v
				}
			}

			response, err := apiClient.SubmitRequest(context.Background(), req)
			if err != nil {
				return fmt.Errorf("error submitting request: %w", err)
			}
			return printJSON(cmd, response)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding the request")
	cmd.Flags().StringVar(&req.ID, "id", "", "Request ID (generated by the server when empty)")
	cmd.Flags().StringVarP(&req.RequesterID, "requester", "r", "", "Requester ID")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Operation kind")
	cmd.Flags().StringVarP(&prio, "priority", "p", "", "Priority (low, normal, high, critical)")
	cmd.Flags().StringToStringVar(&payload, "payload", nil, "Payload fields as key=value pairs")
	cmd.Flags().Float64Var(&req.CostEstimate, "cost", 0, "Cost estimate")
	cmd.Flags().StringVar(&req.Justification, "justification", "", "Business justification")
	return cmd
}

// mergeRequest copies the scalar fields set by flags over the file contents
func mergeRequest(cmd *cobra.Command, dst *workflow.Request, flags workflow.Request) {
	if cmd.Flags().Changed("id") {
		dst.ID = flags.ID
	}
	if cmd.Flags().Changed("requester") {
		dst.RequesterID = flags.RequesterID
	}
	if cmd.Flags().Changed("cost") {
		dst.CostEstimate = flags.CostEstimate
	}
	if cmd.Flags().Changed("justification") {
		dst.Justification = flags.Justification
	}
}

func newDecideRequestCmd() *cobra.Command {
	var (
		decision workflow.ApproverDecision
		reject   bool
	)
	cmd := &cobra.Command{
		Use:   "decide <request-id>",
		Short: "Approve or reject a request awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision.Approve = !reject
			response, err := apiClient.DecideRequest(context.Background(), args[0], decision)
			if err != nil {
				return fmt.Errorf("error deciding request: %w", err)
			}
			return printJSON(cmd, response)
		},
	}
	cmd.Flags().StringVarP(&decision.ApproverID, "approver", "a", "", "Approver ID")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	cmd.Flags().StringVar(&decision.Reason, "reason", "", "Reason recorded with the decision")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func newRequestStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the status of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := apiClient.GetRequestStatus(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching request status: %w", err)
			}
			return printJSON(cmd, status)
		},
	}
}

// awaitingOutput is the trimmed view of a parked request
type awaitingOutput struct {
	ID          string         `json:"id"`
	RequesterID string         `json:"requester_id"`
	Kind        models.JobKind `json:"kind"`
	Priority    string         `json:"priority"`
	Cost        float64        `json:"cost_estimate"`
}

func newAwaitingRequestsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "awaiting",
		Short: "List requests awaiting approval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := apiClient.GetAwaitingRequests(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("error fetching awaiting requests: %w", err)
			}
			output := make([]awaitingOutput, len(rows))
			for i, r := range rows {
				output[i] = awaitingOutput{
					ID:          r.ID,
					RequesterID: r.RequesterID,
					Kind:        r.Kind,
					Priority:    r.Priority.String(),
					Cost:        r.CostEstimate,
				}
			}
			return printJSON(cmd, output)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of requests returned")
	return cmd
}
