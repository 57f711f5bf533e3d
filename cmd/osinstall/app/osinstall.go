package app

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/version/verflag"

	installcmd "github.com/kubemetalio/osinstall/pkg/osinstall/cmd/install"
	plancmd "github.com/kubemetalio/osinstall/pkg/osinstall/cmd/plan"
	validatecmd "github.com/kubemetalio/osinstall/pkg/osinstall/cmd/validate"
)

func NewOSInstallCommand() *cobra.Command {
	cmds := &cobra.Command{
		Use:   "osinstall",
		Short: "osinstall installs an os onto bare metal from a template",
		Run: func(cmd *cobra.Command, _ []string) {
			verflag.PrintAndExitIfRequested()
			cliflag.PrintFlags(cmd.Flags())
			cmd.Help()
		},
	}

	cmds.AddCommand(installcmd.NewInstallCmd())
	cmds.AddCommand(validatecmd.NewValidateCmd())
	cmds.AddCommand(plancmd.NewPlanCmd())

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Set("logtostderr", "false")
	pflag.Set("alsologtostderr", "true")
	pflag.Set("log_file", fmt.Sprintf("%s/osinstall.log", "/tmp"))

	return cmds
}
