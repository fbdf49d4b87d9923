package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/identrail/identrail/internal/connectors/adcs"
	"github.com/identrail/identrail/internal/findings"
	"github.com/identrail/identrail/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest externally collected data",
}

var ingestADCSCmd = &cobra.Command{
	Use:   "adcs",
	Short: "Ingest an ADCS certificate CSV export",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceID, err := parseInstanceID(cmd)
		if err != nil {
			return err
		}
		filePath, _ := cmd.Flags().GetString("file")

		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			instance, err := st.GetConnectorInstance(ctx, instanceID)
			if err != nil {
				return fmt.Errorf("connector instance %s: %w", instanceID, err)
			}
			ctype, err := st.GetConnectorType(ctx, instance.ConnectorTypeID)
			if err != nil {
				return err
			}
			if ctype.Code != adcs.TypeCode {
				return fmt.Errorf("instance %s is %q, not %q", instance.ID, ctype.Code, adcs.TypeCode)
			}

			if filePath == "" {
				cfg, err := adcs.ParseConfig(instance.Config)
				if err != nil {
					return err
				}
				filePath = cfg.FilePath
			}
			if filePath == "" {
				return fmt.Errorf("no --file given and instance %s has no file_path configured", instance.ID)
			}

			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := adcs.ParseCSV(f, slog.Default())
			if err != nil {
				return err
			}

			// The findings land under a collector job so the worker's poll
			// path accounts for them and runs the pipeline.
			job, err := st.CreateJob(ctx, instance.ID, store.TriggerCollector)
			if err != nil {
				return err
			}

			recs := make([]findings.Record, 0, len(records))
			for _, raw := range records {
				recs = append(recs, findings.Record{
					JobID:               &job.ID,
					ConnectorInstanceID: instance.ID,
					EnclaveID:           instance.EnclaveID,
					SourceType:          store.SourceADCSCertificate,
					Fingerprint:         adcs.Fingerprint(raw),
					RawData:             raw,
				})
			}

			ingester := findings.NewIngester(st, slog.Default())
			batch, err := ingester.IngestBatch(ctx, recs)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"job %s: %d rows parsed, %d findings ingested, %d refreshed\n",
				job.ID, len(records), batch.Ingested, batch.Duplicates)
			return nil
		})
	},
}

func init() {
	ingestADCSCmd.Flags().String("instance", "", "adcs_file connector instance id")
	ingestADCSCmd.Flags().String("file", "", "path to the CSV export (falls back to the instance's file_path)")
	ingestCmd.AddCommand(ingestADCSCmd)
}
