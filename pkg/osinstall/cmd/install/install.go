package install

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
)

func NewInstallCmd() *cobra.Command {
	option := NewInstallOptions()
	cmd := &cobra.Command{
		Use:   "install",
		Short: "install an os onto this machine from a template",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := option.Validate(); err != nil {
				klog.Errorf("install option is invalid: %v", err)
				exit(err)
			}
			if err := option.Complete(); err != nil {
				klog.Errorf("fail to complete the install option: %v", err)
				exit(err)
			}
			if err := option.RunInstall(); err != nil {
				klog.Errorf("fail to install os: %v", err)
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
