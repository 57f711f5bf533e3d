package validate

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/kubemetalio/osinstall/pkg/osinstall/config"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
)

type ValidateOptions struct {
	Template   string
	ConfigFile string
}

func NewValidateOptions() *ValidateOptions {
	return &ValidateOptions{}
}

func (o *ValidateOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Template, "template", "t", "", "template location, a file path or an http(s) url")
	fs.StringVar(&o.ConfigFile, "config", config.DefaultPath, "installer config file")
}

func (o *ValidateOptions) Validate() error {
	allErrs := field.ErrorList{}
	return allErrs.ToAggregate()
}

func (o *ValidateOptions) Complete() error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if o.Template == "" {
		o.Template = cfg.Template
	}
	if o.Template == "" {
		return errors.New("no template location, set --template or the config file")
	}
	return nil
}

func (o *ValidateOptions) RunValidate() error {
	if _, err := template.LoadAndValidate(context.Background(), o.Template, template.NewFetcher()); err != nil {
		return err
	}
	fmt.Printf("template %s is valid\n", o.Template)
	return nil
}
