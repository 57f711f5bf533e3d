package main

import (
	"os"

	"k8s.io/component-base/logs"

	"github.com/kubemetalio/osinstall/cmd/osinstall/app"
)

const (
	bashCompleteFile = "/etc/bash_completion.d/osinstall.bash_complete"
)

func main() {
	logs.InitLogs()
	defer logs.FlushLogs()

	command := app.NewOSInstallCommand()
	command.GenBashCompletionFile(bashCompleteFile)
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
