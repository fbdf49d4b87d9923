package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/identrail/identrail/internal/store"
)

var enclavesCmd = &cobra.Command{
	Use:   "enclaves",
	Short: "Manage enclaves",
}

var enclavesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an enclave",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		if name == "" {
			return errors.New("--name is required")
		}

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			enclave, err := st.CreateEnclave(ctx, name, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created enclave %s (%s)\n", enclave.Name, enclave.ID)
			return nil
		})
	},
}

var enclavesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enclaves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			enclaves, err := st.ListEnclaves(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, e := range enclaves {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Name, e.Description)
			}
			return w.Flush()
		})
	},
}

func init() {
	enclavesCreateCmd.Flags().String("name", "", "unique enclave name")
	enclavesCreateCmd.Flags().String("description", "", "enclave description")
	enclavesCmd.AddCommand(enclavesCreateCmd, enclavesListCmd)
}
