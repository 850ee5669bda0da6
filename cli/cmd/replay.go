package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/render"
	"github.com/pithecene-io/gatehouse/cli/tui"
	"github.com/pithecene-io/gatehouse/runtime"
)

// ReplayCommand returns the replay command. It runs a captured stream
// (raw, zstd or lz4, as written by run --capture) through the demuxer
// and extractor without any network I/O.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Classify the parts of a captured alert stream",
		ArgsUsage: "<capture-file>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "boundary",
				Usage: "Multipart boundary marker (default --MIME_boundary)",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Read size used to feed the demuxer",
				Value: 4096,
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print only the per-kind counts",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one capture file", exitConfig)
	}
	if c.Int("chunk-size") <= 0 {
		return cli.Exit(fmt.Sprintf("--chunk-size must be > 0, got %d", c.Int("chunk-size")), exitConfig)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("open capture: %v", err), exitConfig)
	}
	defer func() { _ = f.Close() }()

	capture, _, err := runtime.OpenCapture(f)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	defer func() { _ = capture.Close() }()

	result, err := runtime.Replay(c.Context, capture, runtime.ReplayConfig{
		Boundary:  c.String("boundary"),
		ChunkSize: c.Int("chunk-size"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("replay: %v", err), exitFatal)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReplay, result)
	}
	if c.Bool("summary") {
		return r.Render(result.Counts)
	}
	if r.Format() == render.FormatTable {
		return r.Render(result.Entries)
	}
	return r.Render(result)
}
