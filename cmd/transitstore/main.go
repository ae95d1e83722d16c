// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/transitstore"
	"github.com/poiesic/transitstore/graph"
	"github.com/poiesic/transitstore/storage/badger"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "transitstore",
		Usage: "Embedded store for transit network entities",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "schema",
				Usage: "YAML type schema (defaults to the built-in transit schema)",
			},
			&cli.BoolFlag{
				Name:  "no-compression",
				Usage: "Store entities uncompressed (must match the existing store)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import YAML entity documents",
				ArgsUsage: "FILE...",
				Action:    importCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.BoolFlag{
						Name:  "keep-index",
						Usage: "Do not remove previous index rows of re-imported entities",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Export all entities of a type as YAML",
				Action: exportCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Entity type to export",
						Required: true,
					},
				},
			},
			{
				Name:   "tables",
				Usage:  "List stored, referenced and embedded types",
				Action: tablesCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "resolve",
				Usage:  "Print the subgraph around one entity as YAML",
				Action: resolveCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Entity type of the seed",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Id of the seed",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "inwards",
						Usage: "Types whose referencing entities are followed",
					},
					&cli.BoolFlag{
						Name:  "no-outwards",
						Usage: "Do not follow outgoing references",
					},
				},
			},
			{
				Name:   "copy",
				Usage:  "Copy types with their index rows into another store",
				Action: copyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "Source database directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Target database directory",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "type",
						Usage: "Types to copy (default: all stored types)",
					},
				},
			},
			{
				Name:   "vacuum",
				Usage:  "Compact the store and reclaim space",
				Action: vacuumCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
		},
	}
}

func openDatabase(c *cli.Context, path string, readOnly bool) (*transitstore.Database, error) {
	opts := []transitstore.DatabaseOption{
		transitstore.WithCompression(!c.Bool("no-compression")),
	}
	if schema := c.String("schema"); schema != "" {
		opts = append(opts, transitstore.WithSchema(schema))
	}
	if readOnly {
		opts = append(opts, transitstore.WithEngineOptions(badger.WithReadOnly()))
	}
	db, err := transitstore.NewDatabase(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func importCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}
	db, err := openDatabase(c, c.String("db"), false)
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []badger.InsertOption
	if !c.Bool("keep-index") {
		opts = append(opts, badger.DeleteEmbedding())
	}
	total := 0
	for _, name := range c.Args().Slice() {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		n, err := db.Import(c.Context, f, opts...)
		f.Close()
		if err != nil {
			return fmt.Errorf("import %s: %w", name, err)
		}
		total += n
	}
	fmt.Fprintf(c.App.Writer, "Imported %d entities\n", total)
	return nil
}

func exportCommand(c *cli.Context) error {
	db, err := openDatabase(c, c.String("db"), true)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Export(c.Context, c.App.Writer, c.String("type"))
	return err
}

func tablesCommand(c *cli.Context) error {
	db, err := openDatabase(c, c.String("db"), true)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := db.Engine()
	names := db.Registry().Names()
	tables, err := engine.Tables(c.Context, names...)
	if err != nil {
		return err
	}
	referencing, err := engine.Referencing(c.Context, names...)
	if err != nil {
		return err
	}
	embedded, err := engine.Embedded(c.Context, names...)
	if err != nil {
		return err
	}
	allocated, used := engine.Usage()

	w := c.App.Writer
	fmt.Fprintf(w, "Tables: %s\n", strings.Join(tables, ", "))
	fmt.Fprintf(w, "Referenced: %s\n", strings.Join(referencing, ", "))
	fmt.Fprintf(w, "Embedding: %s\n", strings.Join(embedded, ", "))
	fmt.Fprintf(w, "Usage: %d of %d bytes\n", used, allocated)
	return nil
}

func resolveCommand(c *cli.Context) error {
	db, err := openDatabase(c, c.String("db"), true)
	if err != nil {
		return err
	}
	defer db.Close()

	inwards := c.StringSlice("inwards")
	opts := graph.Options{
		Inwards:     len(inwards) > 0,
		Outwards:    !c.Bool("no-outwards"),
		FilterClass: inwards,
	}
	resolved, err := db.Resolve(c.Context, c.String("type"), c.String("id"), opts)
	if err != nil {
		return err
	}
	data, err := db.Codec().Marshal(resolved.Entities()...)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func copyCommand(c *cli.Context) error {
	source, err := openDatabase(c, c.String("from"), true)
	if err != nil {
		return err
	}
	defer source.Close()
	target, err := openDatabase(c, c.String("to"), false)
	if err != nil {
		return err
	}
	defer target.Close()

	if err := source.CopyTo(c.Context, target, c.StringSlice("type")...); err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Copied %s to %s\n", c.String("from"), c.String("to"))
	return nil
}

func vacuumCommand(c *cli.Context) error {
	db, err := openDatabase(c, c.String("db"), false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Engine().Vacuum(c.Context); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	allocated, used := db.Engine().Usage()
	fmt.Fprintf(c.App.Writer, "Usage: %d of %d bytes\n", used, allocated)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
