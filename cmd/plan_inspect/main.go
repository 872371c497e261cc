// plan_inspect prints summaries of a plan file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/jobflow/pkg/plan/planio"
	"github.com/muesli/termenv"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", true, "Display a summary of the plan.")
	flagTasks   = flag.Bool("tasks", false, "List the tasks of the plan.")
	flagMachine = flag.Int("machine", -1, "If >= 0, only list the tasks of this machine.")
	flagPlain   = flag.Bool("plain", false, "Disable colours.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one plan file. See 'plan_inspect -help'.")
		os.Exit(1)
	}
	if *flagPlain {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
	}
	p, err := planio.ParseFromText(afero.NewOsFs(), args[0])
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(summaryTable(args[0], p))
	}
	if *flagTasks {
		fmt.Println(titleStyle.Render("Tasks"))
		fmt.Println(tasksTable(p, *flagMachine))
	}
}
