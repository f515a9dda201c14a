package fleet

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
)

// machineIDDisplayLength keeps the hashed machine identifiers readable in tables.
const machineIDDisplayLength = 12

// newSpinner returns the CLI loading spinner shown while the registry is queried.
func newSpinner() *spinner.Spinner {
	loader := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	loader.Color("yellow") //nolint:errcheck
	loader.Suffix = " Fetching fleet status from the registry..."

	return loader
}

// render prints the full report as tables.
func render(report *statusReport) {
	if report.Latest == nil {
		fmt.Println(text.FgYellow.Sprint("No release has been published yet."))
	} else {
		drawLatestRelease(report.Latest)
	}

	if len(report.Releases) > 1 {
		drawReleaseHistory(report.Releases)
	}

	if len(report.Agents) > 0 {
		drawAgents(report.Agents)
	} else {
		fmt.Println("\n" + text.FgYellow.Sprint("No agents have checked in yet."))
	}
}

// drawLatestRelease renders the currently published release.
func drawLatestRelease(latest *httpapi.ReleasePayload) {
	fmt.Println("\n" + text.FgGreen.Sprint("Latest release"))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Version", "Commit", "Runtime", "Shim", "Published At", "Published By"})

	t.AppendRow(table.Row{
		latest.ReleaseVersion,
		latest.GitCommit,
		latest.RuntimeVersion,
		latest.ShimVersion,
		latest.PublishedAt.Format(time.RFC3339),
		formatActor(latest.PublishedBy),
	})

	t.SetStyle(table.StyleRounded)
	t.Render()
}

// drawReleaseHistory renders recent releases, newest first.
func drawReleaseHistory(releases []httpapi.ReleasePayload) {
	fmt.Println("\n" + text.FgCyan.Sprint("Release history"))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Version", "Commit", "Runtime", "Shim", "Published At", "Published By"})

	for _, r := range releases {
		t.AppendRow(table.Row{
			r.ReleaseVersion,
			r.GitCommit,
			r.RuntimeVersion,
			r.ShimVersion,
			r.PublishedAt.Format(time.RFC3339),
			formatActor(r.PublishedBy),
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

// drawAgents renders the last known check-in of every agent.
func drawAgents(agents []httpapi.CheckInPayload) {
	fmt.Println("\n" + text.FgCyan.Sprint("Agents"))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Machine", "Reported By", "Release", "Runtime", "Shim", "Platform", "Seen At", "Status"})

	for _, a := range agents {
		status := text.FgGreen.Sprint("current")
		if a.Stale {
			status = text.FgRed.Sprint("stale")
		}

		t.AppendRow(table.Row{
			truncate(a.MachineID, machineIDDisplayLength),
			formatActor(a.Actor),
			a.ReleaseVersion,
			a.RuntimeVersion,
			a.ShimVersion,
			formatPlatform(a.Platform),
			a.SeenAt.Format(time.RFC3339),
			status,
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

// formatActor renders "user@host" or a dash when unknown.
func formatActor(actor *httpapi.ActorPayload) string {
	if actor == nil {
		return "-"
	}

	return actor.Username + "@" + actor.Hostname
}

// formatPlatform renders "os/arch" with the product name when reported.
func formatPlatform(platform httpapi.PlatformPayload) string {
	base := platform.OS + "/" + platform.Arch
	if platform.Name == "" {
		return base
	}

	if platform.Version == "" {
		return fmt.Sprintf("%s (%s)", base, platform.Name)
	}

	return fmt.Sprintf("%s (%s %s)", base, platform.Name, platform.Version)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen-3] + "..."
}
