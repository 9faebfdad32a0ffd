package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/config"
)

func newPolicyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect price policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML or JSON policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := config.LoadPolicies(args[0])
			if err != nil {
				return err
			}
			if _, err := x402.NewPolicySet(nil, policies...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid policies\n", args[0], len(policies))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the policies the configuration resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			policies, err := cfg.PricePolicies()
			if err != nil {
				return err
			}
			set, err := x402.NewPolicySet(logger, policies...)
			if err != nil {
				return err
			}
			return printPolicies(cmd.OutOrStdout(), set)
		},
	})
	return cmd
}

func printPolicies(w io.Writer, set *x402.PolicySet) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tNETWORK\tPRICE\tAMOUNT\tRECIPIENT")
	for _, p := range set.Policies() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ResourceID, p.Network, p.DisplayPrice(), p.Amount.String(), p.Recipient)
	}
	return tw.Flush()
}
