package validate

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

func NewValidateCmd() *cobra.Command {
	option := NewValidateOptions()
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check a template without touching any device",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := option.Validate(); err != nil {
				klog.Errorf("validate option is invalid: %v", err)
				exit(err)
			}
			if err := option.Complete(); err != nil {
				klog.Errorf("fail to complete the validate option: %v", err)
				exit(err)
			}
			if err := option.RunValidate(); err != nil {
				klog.Errorf("fail to validate template: %v", err)
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
