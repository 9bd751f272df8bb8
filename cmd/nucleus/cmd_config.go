package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type outputType int

const (
	tableOut outputType = iota
	jsonOut
)

const (
	outputFlag   = "output"
	cpusFlag     = "cpus"
	archFlag     = "arch"
	workersFlag  = "workers"
	durationFlag = "duration"
	debugFlag    = "debug"
	tokenFlag    = "token"
)

// defaultRunDuration bounds how long a `run`/`ps`/`trace` invocation lets
// the simulation execute before it stops the machine and reports. There is
// no daemon to attach to afterward (spec.md §6 puts a real instruction
// stream and therefore a long-lived guest out of scope), so each invocation
// is a single self-contained simulation run.
const defaultRunDuration = 500 * time.Millisecond

// runOpts collects the flags shared by run, ps, and trace, since all three
// drive the same short-lived simulation and differ only in which part of
// the result they print (mirrors proctorOpts's single-struct-many-commands
// shape).
type runOpts struct {
	outType  outputType
	cpus     int
	arch     string
	workers  int
	duration time.Duration
	debug    bool
}

// imagesOpts collects the flags shared by the images subcommands.
type imagesOpts struct {
	outType outputType
	token   string
}

func newRunOptions(fs *pflag.FlagSet) runOpts {
	cpus, _ := fs.GetInt(cpusFlag)
	arch, _ := fs.GetString(archFlag)
	workers, _ := fs.GetInt(workersFlag)
	dur, _ := fs.GetDuration(durationFlag)
	debug, _ := fs.GetBool(debugFlag)
	return runOpts{
		outType:  resolveOutputType(fs),
		cpus:     cpus,
		arch:     arch,
		workers:  workers,
		duration: dur,
		debug:    debug,
	}
}

func newImagesOptions(fs *pflag.FlagSet) imagesOpts {
	token, _ := fs.GetString(tokenFlag)
	return imagesOpts{
		outType: resolveOutputType(fs),
		token:   token,
	}
}

func resolveOutputType(fs *pflag.FlagSet) outputType {
	of, err := fs.GetString(outputFlag)
	if err != nil {
		return tableOut
	}
	switch of {
	case "json":
		return jsonOut
	default:
		return tableOut
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, psCmd, traceCmd} {
		c.Flags().StringP(outputFlag, "o", "table", "Output type for command [table (default), json].")
		c.Flags().Int(cpusFlag, 2, "Number of logical CPUs to simulate.")
		c.Flags().String(archFlag, "amd64", "Architecture backend to simulate [amd64, arm64].")
		c.Flags().Int(workersFlag, 3, "Number of synthetic worker processes to spawn alongside init.")
		c.Flags().Duration(durationFlag, defaultRunDuration, "How long to let the simulation run before reporting.")
		c.Flags().Bool(debugFlag, false, "Dump full process/thread state with go-spew instead of a table.")
	}

	hostCmd.Flags().StringP(outputFlag, "o", "table", "Output type for command [table (default), json].")

	imagesSyncCmd.Flags().String(tokenFlag, "", "GitHub access token, for private image repositories.")
	imagesReleasesCmd.Flags().StringP(outputFlag, "o", "table", "Output type for command [table (default), json].")
	imagesReleasesCmd.Flags().String(tokenFlag, "", "GitHub access token, for private image repositories.")
}
