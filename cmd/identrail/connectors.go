package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/identrail/identrail/internal/connectors/registry"
	"github.com/identrail/identrail/internal/cron"
	"github.com/identrail/identrail/internal/store"
)

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "Manage connector instances",
}

var connectorsTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List available connector types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME")
		for _, def := range registry.Default().All() {
			fmt.Fprintf(w, "%s\t%s\n", def.Code(), def.DisplayName())
		}
		return w.Flush()
	},
}

var connectorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connector instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			instances, err := st.ListConnectorInstances(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCRON\tENABLED\tLAST RUN")
			for _, inst := range instances {
				lastRun := "never"
				if inst.LastRunAt != nil {
					lastRun = inst.LastRunAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					inst.ID, inst.Name, inst.CronExpression, inst.IsEnabled, lastRun)
			}
			return w.Flush()
		})
	},
}

var connectorsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a connector instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enclaveName, _ := cmd.Flags().GetString("enclave")
		typeCode, _ := cmd.Flags().GetString("type")
		name, _ := cmd.Flags().GetString("name")
		configJSON, _ := cmd.Flags().GetString("config")
		cronExpr, _ := cmd.Flags().GetString("cron")
		disabled, _ := cmd.Flags().GetBool("disabled")

		if enclaveName == "" || typeCode == "" || name == "" {
			return errors.New("--enclave, --type, and --name are required")
		}

		cfg := map[string]any{}
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
				return fmt.Errorf("parse --config: %w", err)
			}
		}
		if err := registry.Default().ValidateConfig(typeCode, cfg); err != nil {
			return err
		}
		if cronExpr != "" && !cron.Validate(cronExpr) {
			return fmt.Errorf("invalid cron expression %q", cronExpr)
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			enclave, err := st.GetEnclaveByName(ctx, enclaveName)
			if err != nil {
				return fmt.Errorf("enclave %q: %w", enclaveName, err)
			}
			ctype, err := st.GetConnectorTypeByCode(ctx, typeCode)
			if err != nil {
				return fmt.Errorf("connector type %q: %w", typeCode, err)
			}

			instance, err := st.CreateConnectorInstance(ctx, store.CreateConnectorInstanceParams{
				ConnectorTypeID: ctype.ID,
				EnclaveID:       enclave.ID,
				Name:            name,
				Config:          cfg,
				CronExpression:  cronExpr,
				IsEnabled:       !disabled,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created connector instance %s (%s)\n", instance.Name, instance.ID)
			return nil
		})
	},
}

// parseInstanceID resolves the required --instance flag.
func parseInstanceID(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("instance")
	if raw == "" {
		return uuid.Nil, errors.New("--instance is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse --instance: %w", err)
	}
	return id, nil
}

func init() {
	connectorsCreateCmd.Flags().String("enclave", "", "enclave name")
	connectorsCreateCmd.Flags().String("type", "", "connector type code")
	connectorsCreateCmd.Flags().String("name", "", "instance name")
	connectorsCreateCmd.Flags().String("config", "", "instance config as a JSON object")
	connectorsCreateCmd.Flags().String("cron", "", "5-field cron expression")
	connectorsCreateCmd.Flags().Bool("disabled", false, "create the instance disabled")
	connectorsCmd.AddCommand(connectorsTypesCmd, connectorsListCmd, connectorsCreateCmd)
}
