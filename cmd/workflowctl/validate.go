package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/sched"
	"github.com/genflow/workflow-engine/nodes/builtin"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Check a workflow definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}

			reg := registry.New()
			builtin.Register(reg, format.NewRegistry(), builtin.Options{})

			plan, err := sched.Validate(wf, reg, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "ok: %d nodes, %d entries, order: %v\n",
				len(plan.Order), len(plan.Entries), plan.Order)
			if len(plan.Unreachable) > 0 {
				fmt.Fprintf(os.Stdout, "warning: unreachable nodes will be skipped: %v\n", plan.Unreachable)
			}
			return nil
		},
	}
}
