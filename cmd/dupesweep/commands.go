package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/dedupe"
	"github.com/olegkotsar/dupesweep/deleter"
	"github.com/olegkotsar/dupesweep/model"
)

func newScanCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the remote tree and write the deletion plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeAll, err := a.runner()
			if err != nil {
				return err
			}
			defer closeAll()

			res, err := r.Scan(cmd.Context())
			if err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			printScan(cmd.OutOrStdout(), res.Scan.Emitted, res.Plan, a.cfg.Scan.PlanFile)
			printBreakdown(cmd.OutOrStdout(), res.Plan, top)
			return nil
		},
	}
	cmd.Flags().String("plan-out", "", "Where to write the plan artifact (default ./dupesweep-plan.json)")
	cmd.Flags().IntVar(&top, "top", 10, "Rows per savings breakdown (0 hides it)")
	cmd.Flags().Bool("resume", false, "Continue the unfinished scan saved in the scan state file")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var planFile string
	var top int
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete duplicates, from a fresh scan or from a plan file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeAll, err := a.runner()
			if err != nil {
				return err
			}
			defer closeAll()

			var rep *deleter.Report
			if planFile != "" {
				plan, err := dedupe.ReadPlan(planFile)
				if err != nil {
					return &exitError{code: exitFatal, err: err}
				}
				rep, err = r.Delete(cmd.Context(), plan)
				if rep != nil {
					printReport(cmd.OutOrStdout(), rep)
				}
				return reportError(rep, err)
			}

			res, rep, err := r.ScanAndDelete(cmd.Context())
			if res == nil {
				return &exitError{code: exitFatal, err: err}
			}
			printScan(cmd.OutOrStdout(), res.Scan.Emitted, res.Plan, a.cfg.Scan.PlanFile)
			printBreakdown(cmd.OutOrStdout(), res.Plan, top)
			if rep != nil {
				printReport(cmd.OutOrStdout(), rep)
			}
			return reportError(rep, err)
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "Delete the candidates of this plan file instead of scanning")
	cmd.Flags().String("plan-out", "", "Where to write the plan artifact of the scan")
	cmd.Flags().IntVar(&top, "top", 10, "Rows per savings breakdown (0 hides it)")
	cmd.Flags().Bool("resume", false, "Continue the unfinished scan saved in the scan state file")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [plan-id]",
		Short: "Continue an interrupted deletion from its checkpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeAll, err := a.runner()
			if err != nil {
				return err
			}
			defer closeAll()

			var planID string
			if len(args) == 1 {
				planID = args[0]
			}
			rep, err := r.Resume(cmd.Context(), planID)
			if rep == nil {
				return &exitError{code: exitFatal, err: err}
			}
			printReport(cmd.OutOrStdout(), rep)
			return reportError(rep, err)
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [plan-id]",
		Short: "Show a checkpoint as YAML, or list open checkpoints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.storeOnly()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				open, err := store.List(cmd.Context())
				if err != nil {
					return &exitError{code: exitFatal, err: err}
				}
				printCheckpoints(out, open)
				return nil
			}

			cp, err := store.Load(cmd.Context(), args[0])
			if errors.Is(err, checkpoint.ErrNotFound) {
				return &exitError{code: exitFatal, err: fmt.Errorf("%w: %s", deleter.ErrNoCheckpoint, args[0])}
			}
			if err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cp); err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			return enc.Close()
		},
	}
}

func printScan(w io.Writer, scanned int64, plan *model.DeletionPlan, planFile string) {
	fmt.Fprintf(w, "Scanned:            %d files\n", scanned)
	fmt.Fprintf(w, "Duplicate groups:   %d\n", plan.Groups)
	fmt.Fprintf(w, "Planned deletions:  %d\n", len(plan.Candidates))
	if plan.Protected > 0 {
		fmt.Fprintf(w, "Protected by scope: %d\n", plan.Protected)
	}
	fmt.Fprintf(w, "Reclaimable:        %s\n", humanBytes(plan.ReclaimableBytes))
	fmt.Fprintf(w, "Plan:               %s", plan.ID)
	if planFile != "" {
		fmt.Fprintf(w, " (%s)", planFile)
	}
	fmt.Fprintln(w)
}

func printBreakdown(w io.Writer, plan *model.DeletionPlan, top int) {
	if top <= 0 || len(plan.Candidates) == 0 {
		return
	}
	b := dedupe.Summarize(plan, top)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "\nLARGEST GROUPS\tCOPIES\tFILE SIZE\tRECLAIMABLE")
	for _, g := range b.Largest {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", g.Keeper, g.Copies, humanBytes(g.SizeBytes), humanBytes(g.Reclaimable))
	}
	fmt.Fprintln(tw, "\nTOP-LEVEL FOLDER\tDELETIONS\tRECLAIMABLE\t")
	for _, f := range b.ByFolder {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\n", f.Key, f.Files, humanBytes(f.Bytes))
	}
	fmt.Fprintln(tw, "\nEXTENSION\tDELETIONS\tRECLAIMABLE\t")
	for _, e := range b.ByExtension {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\n", e.Key, e.Files, humanBytes(e.Bytes))
	}
	tw.Flush()
}

func printReport(w io.Writer, rep *deleter.Report) {
	fmt.Fprintf(w, "Deleted:   %d (already gone: %d)\n", rep.Deleted, rep.Absent)
	fmt.Fprintf(w, "Failed:    %d\n", len(rep.Failed))
	fmt.Fprintf(w, "Pending:   %d\n", rep.Pending)
	fmt.Fprintf(w, "Reclaimed: %s\n", humanBytes(rep.BytesReclaimed))
	for _, f := range rep.Failed {
		fmt.Fprintf(w, "  failed %s: %s\n", f.Path, f.Reason)
	}
}

func printCheckpoints(w io.Writer, cps []*model.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No open checkpoints")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tUPDATED\tCOMPLETED\tFAILED\tPENDING\tIN FLIGHT")
	for _, cp := range cps {
		inFlight := "-"
		if cp.InFlight != nil {
			inFlight = cp.InFlight.JobID
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", cp.PlanID, cp.UpdatedAt.Format(time.RFC3339),
			len(cp.Completed), len(cp.Failed), len(cp.Pending()), inFlight)
	}
	tw.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
