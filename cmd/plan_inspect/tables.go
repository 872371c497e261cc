package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/gomlx/jobflow/pkg/plan"
	"github.com/gomlx/jobflow/pkg/support/sets"
	"github.com/gomlx/jobflow/pkg/support/xslices"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// outputBytes returns the memory of the blobs produced by the task.
func outputBytes(task *plan.Task) uint64 {
	var total uint64
	prefix := task.Op.Name + "/"
	for lbn := range task.BlobDescs {
		if !strings.HasPrefix(lbn, prefix) {
			continue
		}
		desc, err := task.BlobDesc(lbn)
		if err != nil {
			continue
		}
		total += uint64(desc.Shape.Memory())
	}
	return total
}

func summaryTable(path string, p *plan.Plan) string {
	table := newPlainTable(false)
	table.Row("plan", path)
	table.Row("job", p.JobName)
	table.Row("# tasks", humanize.Comma(int64(len(p.Tasks))))
	table.Row("machines", fmt.Sprint(p.Machines()))

	threads := sets.Make[string]()
	deviceTypes := sets.Make[string]()
	opTypes := make(map[string]int)
	var memory uint64
	for i := range p.Tasks {
		task := &p.Tasks[i]
		threads.Insert(fmt.Sprintf("%d:%d", task.MachineID, task.ThreadID))
		deviceTypes.Insert(task.DeviceType.String())
		opTypes[task.Op.Type]++
		memory += outputBytes(task)
	}
	table.Row("# threads", humanize.Comma(int64(len(threads))))
	table.Row("device types", strings.Join(sets.Sorted(deviceTypes), ", "))
	table.Row("# boxing tasks", humanize.Comma(int64(opTypes[ops.TypeBoxing])))
	table.Row("output bytes", humanize.Bytes(memory))
	var counts []string
	for _, opType := range xslices.SortedKeys(opTypes) {
		counts = append(counts, fmt.Sprintf("%s=%d", opType, opTypes[opType]))
	}
	table.Row("operator types", strings.Join(counts, " "))
	return table.Render()
}

// tasksTable lists the tasks of the given machine, or of all machines if machine < 0.
func tasksTable(p *plan.Plan, machine int) string {
	table := newPlainTable(true)
	table.Row("Task", "Machine:Thread", "Device", "Operator", "Type", "Replica", "Output bytes", "Consumers")
	for i := range p.Tasks {
		task := &p.Tasks[i]
		if machine >= 0 && task.MachineID != machine {
			continue
		}
		device := fmt.Sprintf("%s:%d", task.DeviceType, task.DeviceID)
		if task.DeviceType == placement.DeviceTypeInvalid {
			device = "-"
		}
		consumers := make([]string, len(task.Consumers))
		for j, consumer := range task.Consumers {
			consumers[j] = fmt.Sprint(int64(consumer))
		}
		table.Row(
			fmt.Sprint(int64(task.TaskID)),
			fmt.Sprintf("%d:%d", task.MachineID, task.ThreadID),
			device,
			task.Op.Name,
			task.Op.Type,
			fmt.Sprintf("%d/%d", task.ParallelID, task.ParallelNum),
			humanize.Bytes(outputBytes(task)),
			strings.Join(consumers, ","),
		)
	}
	return table.Render()
}
