package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nucleus",
	Short: "A host-simulated preemptive multitasking kernel core.",
	Run:   runRoot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulated machine for a fixed duration and report the final process table and schedule trace.",
	Run:   runRunMachine,
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Run the simulated machine and report only the final process table.",
	Run:   runPS,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run the simulated machine and report only the per-CPU scheduling transition history.",
	Run:   runTrace,
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Report the architecture and logical CPU count of the host nucleus would simulate on.",
	Run:   runHost,
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Fetch and inspect prebuilt test-program images.",
	Run:   runImages,
}

var imagesSyncCmd = &cobra.Command{
	Use:   "sync [repo-url]",
	Short: "Clone or update the local cache of a test-image repository.",
	Run:   runImagesSync,
}

var imagesReleasesCmd = &cobra.Command{
	Use:   "releases [owner/repo]",
	Short: "List the release assets available from a test-image repository.",
	Run:   runImagesReleases,
}

// SetupCLI constructs the cobra hierarchy for the nucleus CLI.
func SetupCLI() *cobra.Command {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesSyncCmd)
	imagesCmd.AddCommand(imagesReleasesCmd)

	return rootCmd
}
