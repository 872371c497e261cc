// jobc compiles a job definition (YAML or HCL) into a plan file.
//
// Usage:
//
//	jobc [-expand_replicas] [-cpu_threads=8] [-tie_break=index] -out plan.yaml job.yaml
package main

import (
	"flag"
	"os"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

var (
	flagOut            = flag.String("out", "", "Plan file to write: YAML (.yaml, .yml, .txt) or HCL (.hcl).")
	flagExpandReplicas = flag.Bool("expand_replicas", false, "Emit one task per replica of each operator.")
	flagCPUThreads     = flag.Int("cpu_threads", 0, "Threads reserved for CPU devices on each machine. "+
		"0 uses the default.")
	flagTieBreak = flag.String("tie_break", "volume", "How SBP candidates needing the same boxing are "+
		"ordered: \"volume\" or \"index\".")
	flagMaxIterations = flag.Int("max_inference_iterations", 0, "Bound on the inference sweeps, 0 uses the default.")
	flagProgress      = flag.Bool("progress", true, "Display a progress bar of the compiler passes.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 || *flagOut == "" {
		klog.Errorf("Expected one job file and -out. See 'jobc -help'.")
		os.Exit(1)
	}
	opts := options{
		ExpandReplicas:         *flagExpandReplicas,
		CPUThreadsPerMachine:   *flagCPUThreads,
		TieBreak:               *flagTieBreak,
		MaxInferenceIterations: *flagMaxIterations,
	}
	if *flagProgress {
		opts.Progress = os.Stderr
	}
	if err := compileFile(afero.NewOsFs(), args[0], *flagOut, opts); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
