package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// GetAuditCmd returns the audit command
func GetAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export the audit ledger",
	}
	auditCmd.AddCommand(newListAuditCmd())
	auditCmd.AddCommand(newExportAuditCmd())
	auditCmd.AddCommand(newVerifyAuditCmd())
	auditCmd.AddCommand(newArchiveAuditCmd())
	return auditCmd
}

// addFilterFlags registers the flags read by auditFilterFromFlags
func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("subject", "", "Only entries about this subject ID")
	fs.String("actor", "", "Only entries recorded by this actor")
	fs.StringSlice("event-type", nil, "Only these event types (repeatable)")
	fs.String("from", "", "Earliest timestamp, RFC3339")
	fs.String("to", "", "Latest timestamp, RFC3339")
	fs.IntP("limit", "l", 0, "Maximum number of entries")
}

func auditFilterFromFlags(fs *pflag.FlagSet) (models.AuditFilter, error) {
	var filter models.AuditFilter
	filter.SubjectID, _ = fs.GetString("subject")
	filter.Actor, _ = fs.GetString("actor")
	filter.Limit, _ = fs.GetInt("limit")
	if filter.Limit < 0 {
		return filter, fmt.Errorf("invalid limit value: %d", filter.Limit)
	}

	eventTypes, _ := fs.GetStringSlice("event-type")
	for _, et := range eventTypes {
		t, err := models.ParseAuditEventType(et)
		if err != nil {
			return filter, err
		}
		filter.EventTypes = append(filter.EventTypes, t)
	}

	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw, _ := fs.GetString(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid --%s value: %w", name, err)
		}
		*dst = ts
	}
	return filter, nil
}

func newListAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries in ledger order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := auditFilterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			entries, err := apiClient.GetAudit(context.Background(), filter)
			if err != nil {
				return fmt.Errorf("error fetching audit entries: %w", err)
			}
			return printJSON(cmd, entries)
		},
	}
	addFilterFlags(cmd.Flags())
	return cmd
}

func newExportAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as JSON lines or CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := auditFilterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			rawFormat, _ := cmd.Flags().GetString("format")
			format, err := audit.ParseFormat(rawFormat)
			if err != nil {
				return err
			}

			data, err := apiClient.ExportAudit(context.Background(), format, filter)
			if err != nil {
				return fmt.Errorf("error exporting audit entries: %w", err)
			}

			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("error writing export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}
	addFilterFlags(cmd.Flags())
	cmd.Flags().String("format", string(audit.FormatJSONL), "Export format (jsonl, csv)")
	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newVerifyAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := apiClient.VerifyAudit(context.Background())
			if err != nil {
				return fmt.Errorf("audit verification failed: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
}

func newArchiveAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload audit entries to object storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := auditFilterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			result, err := apiClient.ArchiveAudit(context.Background(), filter)
			if err != nil {
				return fmt.Errorf("error archiving audit entries: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
	addFilterFlags(cmd.Flags())
	return cmd
}
