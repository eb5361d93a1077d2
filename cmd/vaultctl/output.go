package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	httphandler "github.com/ericfisherdev/fleetvault/internal/adapter/driving/http"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("invalid --output %q: must be text, json or yaml", format)
	}
}

// render writes v in the requested format. text is used for the text format.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		text(tw)
		return tw.Flush()
	}
}

func printStatus(w io.Writer, s httphandler.StatusResponse) {
	fmt.Fprintf(w, "Total:\t%d\n", s.TotalCredentials)
	fmt.Fprintf(w, "Migrated:\t%d\n", s.MigratedCredentials)
	fmt.Fprintf(w, "Pending:\t%d\n", s.PendingCredentials)
	fmt.Fprintf(w, "Failed:\t%d\n", s.FailedCredentials)
	fmt.Fprintf(w, "Reverted:\t%d\n", s.RevertedCredentials)
	lastRun := "never"
	if s.LastRunAt != nil {
		lastRun = *s.LastRunAt
	}
	fmt.Fprintf(w, "Last run:\t%s\n", lastRun)
}

func printBackfill(w io.Writer, r httphandler.BackfillResponse) {
	fmt.Fprintf(w, "Batch size:\t%d\n", r.BatchSize)
	fmt.Fprintf(w, "Processed:\t%d\n", r.Processed)
	fmt.Fprintf(w, "Succeeded:\t%d\n", r.Succeeded)
	fmt.Fprintf(w, "Failed:\t%d\n", r.Failed)
	fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped)
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nID\tERROR")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "%s\t%s\n", e.ID, e.Message)
		}
	}
}

func printValidation(w io.Writer, v httphandler.ValidationResponse) {
	fmt.Fprintf(w, "Checked:\t%d\n", v.TotalChecked)
	fmt.Fprintf(w, "Invalid:\t%d\n", v.InvalidCount)
	fmt.Fprintf(w, "All valid:\t%t\n", v.AllValid)
	for _, id := range v.InvalidCredentialIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

func printReadiness(w io.Writer, r httphandler.ReadinessResponse) {
	verdict := "READY"
	if !r.CanProceed {
		verdict = "BLOCKED"
	}
	fmt.Fprintf(w, "Cleanup:\t%s\n", verdict)
	for _, b := range r.Blockers {
		fmt.Fprintf(w, "  - %s\n", b)
	}
	fmt.Fprintln(w)
	printStatus(w, r.Status)
	fmt.Fprintf(w, "Validated:\t%d checked, %d invalid\n", r.Validation.TotalChecked, r.Validation.InvalidCount)
}

func printAudit(w io.Writer, events []httphandler.AuditEventResponse) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events.")
		return
	}
	fmt.Fprintln(w, "TIME\tACTION\tCREDENTIAL\tACTOR\tDETAIL")
	for _, e := range events {
		credential := e.CredentialID
		if credential == "" {
			credential = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.OccurredAt, e.Action, credential, e.Actor, strings.ReplaceAll(e.Detail, "\n", " "))
	}
}
