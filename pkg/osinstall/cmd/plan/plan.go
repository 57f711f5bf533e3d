package plan

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

func NewPlanCmd() *cobra.Command {
	option := NewPlanOptions()
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "print the resolved layout for a template on this machine",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := option.Validate(); err != nil {
				klog.Errorf("plan option is invalid: %v", err)
				exit(err)
			}
			if err := option.Complete(); err != nil {
				klog.Errorf("fail to complete the plan option: %v", err)
				exit(err)
			}
			if err := option.RunPlan(); err != nil {
				klog.Errorf("fail to plan install: %v", err)
				exit(err)
			}
		},
	}

	fs := cmd.Flags()
	option.AddFlags(fs)
	return cmd
}

// exit maps the error category to the process exit code.
func exit(err error) {
	klog.Flush()
	os.Exit(oserrors.ExitCode(err))
}
