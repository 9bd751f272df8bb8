package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/arctir/nucleus/arch"
	"github.com/arctir/nucleus/arch/amd64"
	"github.com/arctir/nucleus/arch/arm64"
	"github.com/arctir/nucleus/hal/hostinfo"
	"github.com/arctir/nucleus/imagesync"
	"github.com/arctir/nucleus/kernel"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/thread"
)

// simBaseFrame and simWorkerEntry are arbitrary but fixed addresses used to
// seed the synthetic processes a run/ps/trace invocation spawns; there is no
// ELF image behind them (spec.md §6 puts image loading out of scope), so
// any nonzero placeholder entry point works equally well.
const (
	simBaseFrame   = 0x10000
	simWorkerEntry = 0x400000
)

// runRoot prints help when nucleus is run without a subcommand.
func runRoot(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(0)
	}
}

// runImages prints help when `nucleus images` is run without a subcommand.
func runImages(cmd *cobra.Command, args []string) {
	cmd.Help()
	os.Exit(0)
}

// runRunMachine defines `nucleus run`: simulate, then report both the
// process table and the scheduling trace.
func runRunMachine(cmd *cobra.Command, args []string) {
	opts := newRunOptions(cmd.Flags())
	m := mustSimulate(opts)
	output(processTableOutput(m, opts))
	output(traceTableOutput(m, opts))
}

// runPS defines `nucleus ps`: simulate, report only the process table.
func runPS(cmd *cobra.Command, args []string) {
	opts := newRunOptions(cmd.Flags())
	m := mustSimulate(opts)
	output(processTableOutput(m, opts))
}

// runTrace defines `nucleus trace`: simulate, report only the scheduling
// transition history.
func runTrace(cmd *cobra.Command, args []string) {
	opts := newRunOptions(cmd.Flags())
	m := mustSimulate(opts)
	output(traceTableOutput(m, opts))
}

// runHost defines `nucleus host`.
func runHost(cmd *cobra.Command, args []string) {
	opts := newRunOptionsForHost(cmd)
	info, err := hostinfo.NewHostReader().Get()
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("failed reading host info: %s", err))
	}
	output(hostTableOutput(info, opts))
}

// runImagesSync defines `nucleus images sync [repo-url]`.
func runImagesSync(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(0)
	}
	opts := newImagesOptions(cmd.Flags())
	s := imagesync.New(imagesync.Config{GitHubToken: opts.token})
	path, err := s.ResolveRepo(args[0])
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("failed resolving image repository: %s", err))
	}
	output([]byte(fmt.Sprintf("cached at %s\n", path)))
}

// runImagesReleases defines `nucleus images releases [owner/repo]`.
func runImagesReleases(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cmd.Help()
		os.Exit(0)
	}
	opts := newImagesOptions(cmd.Flags())
	s := imagesync.New(imagesync.Config{GitHubToken: opts.token})
	images, err := s.ListReleases(context.Background(), args[0])
	if err != nil {
		outputErrorAndFail(fmt.Sprintf("failed listing releases: %s", err))
	}
	output(imagesTableOutput(images, opts))
}

// mustSimulate builds and runs a simulated machine for opts.duration, then
// stops it and returns it for reporting. Failures here are fatal: there is
// no partial-success case for constructing the in-memory machine.
func mustSimulate(opts runOpts) *kernel.Machine {
	var backend arch.Backend
	switch opts.arch {
	case "arm64":
		backend = arm64.New()
	case "amd64":
		backend = amd64.New()
	default:
		outputErrorAndFail(fmt.Sprintf("unknown --arch %q; expected amd64 or arm64", opts.arch))
	}

	fa := kernel.NewInMemoryFrameAllocator(simBaseFrame)
	pt := kernel.NewInMemoryPageTable(0)
	m := kernel.New(opts.cpus, backend, pt, fa)

	initProc := process.New(process.InitPID, "init", 0)
	initThread := thread.New(initProc.PID, 0, thread.Kernel)
	m.Syscalls.SpawnInitProcess(initProc, initThread)
	m.Scheduler.Spawn(0, initThread)

	for i := 0; i < opts.workers; i++ {
		pid := process.AllocatePID()
		p := process.New(pid, "worker-"+strconv.Itoa(i), simWorkerEntry)
		p.ParentPID = process.InitPID
		initProc.AddChild(pid)
		th := thread.New(pid, 0, thread.User)
		m.Syscalls.SpawnInitProcess(p, th)
		m.Scheduler.Spawn(uint32(i%opts.cpus), th)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	<-ctx.Done()
	m.Stop()
	<-done

	return m
}

func output(out []byte) {
	fmt.Printf("%s", out)
}

func outputErrorAndFail(msg string) {
	fmt.Println(msg)
	os.Exit(1)
}

func processTableOutput(m *kernel.Machine, opts runOpts) []byte {
	procs := m.Processes.Snapshot()

	if opts.debug {
		var buf bytes.Buffer
		spew.Fdump(&buf, procs)
		return buf.Bytes()
	}

	switch opts.outType {
	case jsonOut:
		out, _ := json.Marshal(procs)
		return out
	default:
		rows := make([][]string, 0, len(procs))
		for _, p := range procs {
			threadState := "-"
			if p.MainThread != nil {
				threadState = p.MainThread.State.String()
			}
			rows = append(rows, []string{
				strconv.FormatUint(p.PID, 10),
				strconv.FormatUint(p.ParentPID, 10),
				p.Name,
				p.State.String(),
				threadState,
			})
		}
		var buf bytes.Buffer
		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"PID", "PPID", "NAME", "STATE", "THREAD"})
		table.AppendBulk(rows)
		table.Render()
		return buf.Bytes()
	}
}

func traceTableOutput(m *kernel.Machine, opts runOpts) []byte {
	history := m.Scheduler.History()

	if opts.debug {
		var buf bytes.Buffer
		spew.Fdump(&buf, history)
		return buf.Bytes()
	}

	switch opts.outType {
	case jsonOut:
		out, _ := json.Marshal(history)
		return out
	default:
		rows := make([][]string, 0, len(history))
		for _, t := range history {
			rows = append(rows, []string{
				strconv.FormatUint(uint64(t.CPU), 10),
				strconv.FormatUint(t.Old, 10),
				strconv.FormatUint(t.New, 10),
			})
		}
		var buf bytes.Buffer
		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"CPU", "FROM", "TO"})
		table.AppendBulk(rows)
		table.Render()
		return buf.Bytes()
	}
}

func hostTableOutput(info *hostinfo.Info, opts imagesOpts) []byte {
	if opts.outType == jsonOut {
		out, _ := json.Marshal(info)
		return out
	}
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"ARCHITECTURE", "LOGICAL CPUS"})
	table.Append([]string{info.Architecture, strconv.Itoa(info.LogicalCPUs)})
	table.Render()
	return buf.Bytes()
}

func imagesTableOutput(images []imagesync.Image, opts imagesOpts) []byte {
	if opts.outType == jsonOut {
		out, _ := json.Marshal(images)
		return out
	}
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		rows = append(rows, []string{img.Release, img.Name, img.ContentType, img.URL})
	}
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"RELEASE", "NAME", "CONTENT-TYPE", "URL"})
	table.AppendBulk(rows)
	table.Render()
	return buf.Bytes()
}

// newRunOptionsForHost lets `host` reuse imagesOpts' output-type resolution
// without also pulling in the simulation flags run/ps/trace need.
func newRunOptionsForHost(cmd *cobra.Command) imagesOpts {
	return imagesOpts{outType: resolveOutputType(cmd.Flags())}
}
