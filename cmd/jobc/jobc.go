package main

import (
	"io"

	"github.com/gomlx/jobflow/pkg/compiler"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/gomlx/jobflow/pkg/plan/planio"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

type options struct {
	ExpandReplicas         bool
	CPUThreadsPerMachine   int
	TieBreak               string
	MaxInferenceIterations int

	// Progress, if set, is where the progress bar is drawn.
	Progress io.Writer
}

func parseTieBreak(name string) (sbp.TieBreak, error) {
	switch name {
	case "", "volume":
		return sbp.TieBreakByVolume, nil
	case "index":
		return sbp.TieBreakByIndex, nil
	}
	return 0, errors.Errorf("unknown tie break %q, valid values are \"volume\" and \"index\"", name)
}

// compileFile compiles the job in jobPath and writes its plan to planPath.
func compileFile(fs afero.Fs, jobPath, planPath string, opts options) error {
	tieBreak, err := parseTieBreak(opts.TieBreak)
	if err != nil {
		return err
	}
	logical, err := planio.ParseJobFromText(fs, jobPath)
	if err != nil {
		return err
	}
	compilerOptions := []compiler.Option{
		compiler.WithTieBreak(tieBreak),
		compiler.WithMaxInferenceIterations(opts.MaxInferenceIterations),
	}
	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		compilerOptions = append(compilerOptions, compiler.WithProgress(func(pass string, _, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(opts.Progress),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			bar.Describe("compiling " + logical.Name() + ": " + pass)
			_ = bar.Add(1)
		}))
	}
	compiled, err := compiler.New(compilerOptions...).Compile(logical)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	p, err := plan.Assign(compiled, plan.AssignOptions{
		ExpandReplicas:       opts.ExpandReplicas,
		CPUThreadsPerMachine: opts.CPUThreadsPerMachine,
	})
	if err != nil {
		return err
	}
	if err := planio.WriteToFile(fs, planPath, p); err != nil {
		return err
	}
	klog.Infof("job %q: %d operators compiled into %d tasks, written to %q",
		compiled.Name(), compiled.NumOps(), len(p.Tasks), planPath)
	return nil
}
