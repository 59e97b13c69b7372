// Command capmux-log inspects protocol log files written by capmux-node.
//
// Usage:
//
//	capmux-log view <file> [--layer L] [--direction D] [--category C] [--node N] [--protocol P]
//	capmux-log export <file> --format jsonl|csv [-o out]
//	capmux-log filter <file> -o out.plog [--conn ID] [--node N] [--protocol P] [--from T] [--to T]
//	capmux-log stats <file>
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/capmux/capmux-go/cmd/capmux-log/commands"
)

var errNoFile = errors.New("missing log file argument")

func fileArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", errNoFile
	}
	return c.Args().First(), nil
}

var (
	layerFlag     = &cli.StringFlag{Name: "layer", Usage: "filter by layer (transport, session, host)"}
	directionFlag = &cli.StringFlag{Name: "direction", Usage: "filter by direction (in, out)"}
	categoryFlag  = &cli.StringFlag{Name: "category", Usage: "filter by category (message, control, state, error)"}
	nodeFlag      = &cli.StringFlag{Name: "node", Usage: "filter by remote node ID prefix (hex)"}
	protocolFlag  = &cli.StringFlag{Name: "protocol", Usage: "filter by protocol ID (decimal or 0x hex)"}
)

func main() {
	app := &cli.App{
		Name:  "capmux-log",
		Usage: "view and analyze capmux protocol logs",
		Commands: []*cli.Command{
			{
				Name:      "view",
				Usage:     "display log events in human-readable format",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{layerFlag, directionFlag, categoryFlag, nodeFlag, protocolFlag},
				Action:    viewAction,
			},
			{
				Name:      "export",
				Usage:     "export log to another format",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "jsonl", Usage: "output format (jsonl, csv)"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
				},
				Action: func(c *cli.Context) error {
					path, err := fileArg(c)
					if err != nil {
						return err
					}
					return commands.RunExport(path, c.String("format"), c.String("output"))
				},
			},
			{
				Name:      "filter",
				Usage:     "filter log events to a new file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: "output file"},
					&cli.StringFlag{Name: "conn", Usage: "filter by connection ID"},
					&cli.StringFlag{Name: "from", Usage: "events at or after this time (RFC3339)"},
					&cli.StringFlag{Name: "to", Usage: "events before this time (RFC3339)"},
					layerFlag, directionFlag, categoryFlag, nodeFlag, protocolFlag,
				},
				Action: filterAction,
			},
			{
				Name:      "stats",
				Usage:     "show statistics about the log",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					path, err := fileArg(c)
					if err != nil {
						return err
					}
					return commands.RunStats(path, c.App.Writer)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func viewAction(c *cli.Context) error {
	path, err := fileArg(c)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{NodeID: c.String("node")}
	if s := c.String("layer"); s != "" {
		l, err := commands.ParseLayerFlag(s)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if s := c.String("direction"); s != "" {
		d, err := commands.ParseDirectionFlag(s)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if s := c.String("category"); s != "" {
		cat, err := commands.ParseCategoryFlag(s)
		if err != nil {
			return err
		}
		filter.Category = &cat
	}
	if s := c.String("protocol"); s != "" {
		pid, err := commands.ParseProtocolFlag(s)
		if err != nil {
			return err
		}
		filter.ProtocolID = &pid
	}
	return commands.RunView(path, filter, c.App.Writer)
}

func filterAction(c *cli.Context) error {
	path, err := fileArg(c)
	if err != nil {
		return err
	}
	output := c.String("output")
	if output == path {
		return fmt.Errorf("output %s would overwrite the input", output)
	}

	count, err := commands.RunFilter(path, commands.FilterOptions{
		Output:     output,
		ConnID:     c.String("conn"),
		NodeID:     c.String("node"),
		ProtocolID: c.String("protocol"),
		TimeStart:  c.String("from"),
		TimeEnd:    c.String("to"),
		Layer:      c.String("layer"),
		Direction:  c.String("direction"),
		Category:   c.String("category"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Filtered %d events to %s\n", count, output)
	return nil
}
