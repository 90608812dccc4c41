package main

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/Standard-Labs/real-intent/internal/app"
	"github.com/Standard-Labs/real-intent/internal/leadcsv"
	"github.com/Standard-Labs/real-intent/internal/version"
)

func newFulfillCommand(cc *commandContext) *cobra.Command {
	var (
		planPath string
		target   int
		output   string
		exclude  []string
	)
	cmd := &cobra.Command{
		Use:   "fulfill",
		Short: "Deliver a plan's target of validated leads, relaxing fallback tiers as needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			leads, sum, err := cc.runner().Fulfill(cmd.Context(), planPath, app.FulfillOptions{
				Target:       target,
				OutputPath:   output,
				ExcludePaths: exclude,
			})
			if err != nil {
				return err
			}
			if output == "" {
				return leadcsv.Write(cmd.OutOrStdout(), leads)
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "delivered %d/%d leads to %s\n", sum.Delivered, sum.Target, output)
			return err
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Fulfillment plan (YAML)")
	cmd.Flags().IntVarP(&target, "target", "n", 0, "Override the plan target")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV path (default stdout)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "CSV files of earlier deliveries; their md5 values are never delivered again")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newProcessCommand(cc *commandContext) *cobra.Command {
	var (
		planPath string
		desired  int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Validate up to --desired identifiers once, with every plan validator and no quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if desired < 1 {
				return errors.WithHint(errors.New("--desired must be positive"), "pass --desired <n>")
			}
			leads, err := cc.runner().Process(cmd.Context(), planPath, desired, output)
			if err != nil {
				return err
			}
			if output == "" {
				return leadcsv.Write(cmd.OutOrStdout(), leads)
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "processed %d leads to %s\n", len(leads), output)
			return err
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Fulfillment plan (YAML)")
	cmd.Flags().IntVar(&desired, "desired", 0, "Identifiers to pull")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV path (default stdout)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newCheckCommand(cc *commandContext) *cobra.Command {
	var (
		planPath string
		maxIDs   int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report how much intent a plan's filters match: total events and unique identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			avail, err := cc.runner().Check(cmd.Context(), planPath, maxIDs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(avail)
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Fulfillment plan (YAML)")
	cmd.Flags().IntVar(&maxIDs, "max", 10000, "Cap on distinct identifiers requested")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the leadfill version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
