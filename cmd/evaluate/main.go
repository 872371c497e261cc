// evaluate constructs the actor of one task of a plan, with passive actors for the other tasks of the
// machine, and exits with status 0 if every actor of the machine was constructed.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/gomlx/jobflow/pkg/evaluator"
	_ "github.com/gomlx/jobflow/pkg/kernel/cpu"
	"github.com/gomlx/jobflow/pkg/support/fsutil"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

var (
	flagPlanFilePath = flag.String("plan_filepath", "", "Plan file to evaluate: YAML (.yaml, .yml, .txt) or HCL (.hcl).")
	flagActorID      = flag.String("actor_id", "", "Id of the task whose actor is constructed.")
	flagMachineID    = flag.Int("machine_id", 0, "Machine whose tasks are evaluated.")
	flagLogDir       = flag.String("log_dir", "", "If set, logs go to <log_dir>/evaluate.log instead of stderr.")
	flagTimeout      = flag.Duration("construct_timeout", 0,
		"How long to wait for the actors to be constructed. Defaults to the runtime's default.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagPlanFilePath == "" || *flagActorID == "" {
		klog.Errorf("Both -plan_filepath and -actor_id are required. See 'evaluate -help'.")
		os.Exit(1)
	}
	if err := run(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run() (err error) {
	fs := afero.NewOsFs()
	if *flagLogDir != "" {
		logDir, err := fsutil.ReplaceTildeInDir(*flagLogDir)
		if err != nil {
			return err
		}
		restore, err := fsutil.RedirectStdoutAndStderr(fs, logDir)
		if err != nil {
			return err
		}
		defer func() {
			if restoreErr := restore(); err == nil {
				err = restoreErr
			}
		}()
	}
	return evaluator.Run(context.Background(), fs, *flagPlanFilePath, *flagActorID, evaluator.Options{
		MachineID:        *flagMachineID,
		ConstructTimeout: *flagTimeout,
	})
}
