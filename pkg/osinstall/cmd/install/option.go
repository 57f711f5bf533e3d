package install

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/kubemetalio/osinstall/pkg/osinstall/config"
	installer "github.com/kubemetalio/osinstall/pkg/osinstall/install"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
	"github.com/kubemetalio/osinstall/pkg/util"
)

type InstallOptions struct {
	Template   string
	Image      string
	ConfigFile string
	DryRun     bool
	Skeleton   bool

	cfg    *config.Config
	runner *util.Runner
}

func NewInstallOptions() *InstallOptions {
	return &InstallOptions{}
}

func (o *InstallOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Template, "template", "t", "", "template location, a file path or an http(s) url")
	fs.StringVar(&o.Image, "image", "", "override the template's image source location")
	fs.StringVar(&o.ConfigFile, "config", config.DefaultPath, "installer config file")
	fs.BoolVar(&o.DryRun, "dry-run", false, "validate and plan only, do not touch any device")
	fs.BoolVar(&o.Skeleton, "skeleton", false, "sync the directory structure only, no file content")
}

func (o *InstallOptions) Validate() error {
	allErrs := field.ErrorList{}
	return allErrs.ToAggregate()
}

func (o *InstallOptions) Complete() (err error) {
	o.cfg, err = config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if o.Template == "" {
		o.Template = o.cfg.Template
	}
	if o.Template == "" {
		return errors.New("no template location, set --template or the config file")
	}
	timeout, err := o.cfg.Timeout()
	if err != nil {
		return err
	}
	o.runner = util.NewRunnerWithTimeout(timeout)
	return nil
}

func (o *InstallOptions) RunInstall() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst := installer.New(o.runner, template.NewFetcher(), o.cfg)
	return inst.Run(ctx, installer.Request{
		TemplateLocation: o.Template,
		ImageOverride:    o.Image,
		DryRun:           o.DryRun,
		Skeleton:         o.Skeleton,
	})
}
