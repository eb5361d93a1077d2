package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/fleetvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/fleetvault/internal/client"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration progress counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := c.api.Status(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, status, func(w io.Writer) { printStatus(w, status) })
		},
	}
}

func (c *cli) backfillCmd() *cobra.Command {
	var (
		batchSize int
		untilDone bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-encrypt a batch of pending credentials under the enterprise key",
		Long: `Run one backfill batch. With --until-done, keep running batches until no
pending credential is left or a batch makes no progress; the printed
result is the sum over all batches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must be positive, got %d", batchSize)
			}

			total, err := c.runBackfill(cmd, batchSize, untilDone)
			if err != nil && total.Processed == 0 {
				return err
			}
			if renderErr := render(cmd.OutOrStdout(), c.output, total, func(w io.Writer) { printBackfill(w, total) }); renderErr != nil {
				return renderErr
			}
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch, 1-1000 (default: server default)")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "repeat batches until nothing is pending")
	return cmd
}

// runBackfill returns the accumulated result of every batch that committed,
// including the partial batch the server reports alongside an error.
func (c *cli) runBackfill(cmd *cobra.Command, batchSize int, untilDone bool) (httphandler.BackfillResponse, error) {
	total := httphandler.BackfillResponse{Errors: []httphandler.RecordErrorResponse{}}

	for {
		batch, err := c.api.Backfill(cmd.Context(), batchSize)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Partial != nil {
				accumulate(&total, *apiErr.Partial)
			}
			return total, err
		}
		accumulate(&total, batch)

		if !untilDone || batch.Processed == 0 || batch.Succeeded+batch.Failed == 0 {
			return total, nil
		}
		if err := cmd.Context().Err(); err != nil {
			return total, err
		}
	}
}

func accumulate(total *httphandler.BackfillResponse, batch httphandler.BackfillResponse) {
	total.BatchSize = batch.BatchSize
	total.Processed += batch.Processed
	total.Succeeded += batch.Succeeded
	total.Failed += batch.Failed
	total.Skipped += batch.Skipped
	total.Errors = append(total.Errors, batch.Errors...)
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every migrated credential decrypts under the enterprise key",
		Long:  "Run a read-only validation sweep. Exits 3 when any migrated credential is invalid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.api.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), c.output, result, func(w io.Writer) { printValidation(w, result) }); err != nil {
				return err
			}
			if !result.AllValid {
				return &checkFailedError{reason: fmt.Sprintf("%d migrated credential(s) failed validation", result.InvalidCount)}
			}
			return nil
		},
	}
}

func (c *cli) revertCmd() *cobra.Command {
	var hold bool

	cmd := &cobra.Command{
		Use:   "revert ID",
		Short: "Return one credential to legacy encryption",
		Long: `Discard a credential's enterprise ciphertext. By default it goes back to
pending and the next backfill picks it up again. With --hold it stays on
legacy encryption; reverting a held credential without --hold releases it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.api.Revert(cmd.Context(), args[0], hold)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, result, func(w io.Writer) {
				fmt.Fprintf(w, "%s\t%s\n", result.ID, result.Status)
			})
		},
	}

	cmd.Flags().BoolVar(&hold, "hold", false, "keep the credential on legacy encryption instead of re-queueing it")
	return cmd
}

func (c *cli) retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-queue every failed credential for the next backfill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.api.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, result, func(w io.Writer) {
				fmt.Fprintf(w, "Requeued:\t%d\n", result.Requeued)
			})
		},
	}
}

func (c *cli) readinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Report whether legacy ciphertexts can be cleaned up",
		Long:  "Run the cleanup readiness check. Exits 3 when cleanup is blocked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.api.Readiness(cmd.Context())
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), c.output, report, func(w io.Writer) { printReadiness(w, report) }); err != nil {
				return err
			}
			if !report.CanProceed {
				return &checkFailedError{reason: "cleanup blocked"}
			}
			return nil
		},
	}
}

func (c *cli) auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent migration audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.api.Audit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), c.output, events, func(w io.Writer) { printAudit(w, events) })
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events (1-1000)")
	return cmd
}
