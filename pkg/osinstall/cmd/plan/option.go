package plan

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/kubemetalio/osinstall/pkg/osinstall/config"
	"github.com/kubemetalio/osinstall/pkg/osinstall/device"
	oserrors "github.com/kubemetalio/osinstall/pkg/osinstall/errors"
	installplan "github.com/kubemetalio/osinstall/pkg/osinstall/plan"
	"github.com/kubemetalio/osinstall/pkg/osinstall/template"
	"github.com/kubemetalio/osinstall/pkg/util"
)

type PlanOptions struct {
	Template   string
	ConfigFile string

	runner *util.Runner
}

func NewPlanOptions() *PlanOptions {
	return &PlanOptions{}
}

func (o *PlanOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Template, "template", "t", "", "template location, a file path or an http(s) url")
	fs.StringVar(&o.ConfigFile, "config", config.DefaultPath, "installer config file")
}

func (o *PlanOptions) Validate() error {
	allErrs := field.ErrorList{}
	return allErrs.ToAggregate()
}

func (o *PlanOptions) Complete() error {
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
	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}
	o.runner = util.NewRunnerWithTimeout(timeout)
	return nil
}

func (o *PlanOptions) RunPlan() error {
	ctx := context.Background()
	tmpl, err := template.LoadAndValidate(ctx, o.Template, template.NewFetcher())
	if err != nil {
		return err
	}
	disks, err := device.ListDisks(ctx, o.runner)
	if err != nil {
		return oserrors.New(oserrors.CategoryDevice, err)
	}
	p, err := installplan.Build(tmpl, device.PlannerInputs(disks), device.MemoryBytes())
	if err != nil {
		return err
	}
	printPlan(p)
	return nil
}

func printPlan(p *installplan.Plan) {
	fmt.Printf("IMAGE\t%s\t%s\n", p.Image.Type, p.Image.Location)
	for _, part := range p.Partitions {
		fmt.Printf("PARTITION\t%s\t%d..%dMiB\t%s\n", part.Device, part.StartMiB, part.EndMiB, part.Type)
	}
	for _, arr := range p.Arrays {
		fmt.Printf("ARRAY\t%s\t%s\t%v\n", arr.Device, arr.Mode, arr.Members)
	}
	for _, f := range p.Filesystems {
		fmt.Printf("FILESYSTEM\t%s\t%s\t%s\n", f.Device, f.Type, f.Mount)
	}
	for _, m := range p.Mounts {
		fmt.Printf("MOUNT\t%s\t%s\n", m.Device, m.Path)
	}
}
