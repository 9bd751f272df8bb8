package main

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/arctir/nucleus/arch/amd64"
	"github.com/arctir/nucleus/hal/hostinfo"
	"github.com/arctir/nucleus/imagesync"
	"github.com/arctir/nucleus/kernel"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/thread"
)

func TestResolveOutputTypeDefaultsToTable(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(outputFlag, "table", "")
	if got := resolveOutputType(fs); got != tableOut {
		t.Fatalf("expected tableOut, got %v", got)
	}
}

func TestResolveOutputTypeRecognizesJSON(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(outputFlag, "json", "")
	fs.Set(outputFlag, "json")
	if got := resolveOutputType(fs); got != jsonOut {
		t.Fatalf("expected jsonOut, got %v", got)
	}
}

func TestNewRunOptionsReadsEveryFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP(outputFlag, "o", "table", "")
	fs.Int(cpusFlag, 2, "")
	fs.String(archFlag, "amd64", "")
	fs.Int(workersFlag, 3, "")
	fs.Duration(durationFlag, defaultRunDuration, "")
	fs.Bool(debugFlag, false, "")

	fs.Set(cpusFlag, "4")
	fs.Set(archFlag, "arm64")
	fs.Set(workersFlag, "7")
	fs.Set(debugFlag, "true")

	opts := newRunOptions(fs)
	if opts.cpus != 4 || opts.arch != "arm64" || opts.workers != 7 || !opts.debug {
		t.Fatalf("unexpected opts: %+v", opts)
	}
}

func TestProcessTableOutputListsEveryProcess(t *testing.T) {
	m := kernel.New(1, amd64.New(), kernel.NewInMemoryPageTable(0), kernel.NewInMemoryFrameAllocator(0x1000))
	p := process.New(process.InitPID, "init", 0)
	th := thread.New(p.PID, 0, thread.Kernel)
	m.Syscalls.SpawnInitProcess(p, th)

	out := string(processTableOutput(m, runOpts{outType: tableOut}))
	if !strings.Contains(out, "init") {
		t.Fatalf("expected table to mention process name, got: %s", out)
	}
}

func TestProcessTableOutputJSON(t *testing.T) {
	m := kernel.New(1, amd64.New(), kernel.NewInMemoryPageTable(0), kernel.NewInMemoryFrameAllocator(0x1000))
	p := process.New(process.InitPID, "init", 0)
	th := thread.New(p.PID, 0, thread.Kernel)
	m.Syscalls.SpawnInitProcess(p, th)

	out := string(processTableOutput(m, runOpts{outType: jsonOut}))
	if !strings.Contains(out, "\"PID\"") {
		t.Fatalf("expected JSON output to contain PID field, got: %s", out)
	}
}

func TestHostTableOutputTable(t *testing.T) {
	info := &hostinfo.Info{Architecture: "x86_64", LogicalCPUs: 4}
	out := string(hostTableOutput(info, imagesOpts{outType: tableOut}))
	if !strings.Contains(out, "x86_64") {
		t.Fatalf("expected table to mention architecture, got: %s", out)
	}
}

func TestImagesTableOutputTable(t *testing.T) {
	images := []imagesync.Image{{Name: "kernel.img", Release: "v1", ContentType: "application/octet-stream", URL: "https://example.invalid/kernel.img"}}
	out := string(imagesTableOutput(images, imagesOpts{outType: tableOut}))
	if !strings.Contains(out, "kernel.img") {
		t.Fatalf("expected table to mention image name, got: %s", out)
	}
}
