package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/render"
	"github.com/pithecene-io/gatehouse/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	UserAgent string `json:"user_agent"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitConfig)
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", exitConfig)
		}

		return r.Render(VersionResponse{
			Version:   types.Version,
			Commit:    commit,
			UserAgent: types.UserAgent,
		})
	}
}
