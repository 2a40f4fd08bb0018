package main

import (
	"context"
	"fmt"
	"os"

	"github.com/itstheanurag/gradebox/internal/database"
	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/itstheanurag/gradebox/internal/server"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API and grade queued submissions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			srv, err := server.New(ctx, conf, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer srv.Close()

			return srv.Run(ctx)
		},
	}
}

func gradeCommand() *cli.Command {
	return &cli.Command{
		Name:  "grade",
		Usage: "grade one stored submission synchronously",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "submission", Usage: "submission id", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			db, err := database.New(conf, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			engine, err := server.NewEngine(conf, database.NewRuntimeRepository(db), database.NewSubmissionStore(db), logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			id := cmd.String("submission")
			if err := engine.Grader.Grade(ctx, id); err != nil {
				return fmt.Errorf("grading %s failed: %w", id, err)
			}
			fmt.Printf("submission %s graded\n", id)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run a source file once without storing anything",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Required: true},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "source file", Required: true},
			&cli.StringFlag{Name: "input", Usage: "stdin for the program"},
			&cli.StringFlag{Name: "expected", Usage: "expected output; omit to only run"},
			&cli.StringFlag{Name: "runtimes", Usage: "TOML runtime registry (default RUNTIMES_FILE)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			registry, err := loadRegistry(cmd.String("runtimes"), conf.Grader.RuntimesFile)
			if err != nil {
				return err
			}

			code, err := os.ReadFile(cmd.String("file"))
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}

			tc := grader.RunCase{Input: cmd.String("input")}
			if cmd.IsSet("expected") {
				expected := cmd.String("expected")
				tc.ExpectedOutput = &expected
			}

			engine, err := server.NewEngine(conf, registry, nil, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := engine.Grader.Run(ctx, string(code), cmd.String("language"), []grader.RunCase{tc})
			if err != nil {
				return err
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "check whether an image can run right now",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			sb, err := sandbox.NewDockerSandbox(logger, conf.Grader.OutputCapBytes)
			if err != nil {
				return err
			}
			defer sb.Close()

			img := cmd.String("image")
			status := sb.Probe(ctx, img)
			fmt.Printf("%s %s\n", img, statusColor(status).Sprint(status))
			if status != sandbox.StatusReady {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func runtimesCommand() *cli.Command {
	return &cli.Command{
		Name:  "runtimes",
		Usage: "list registered runtimes and the health of their images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "db", Usage: "read runtimes from Postgres instead of the built-in registry"},
			&cli.BoolFlag{Name: "seed", Usage: "with --db, insert the built-in runtimes into an empty table"},
			&cli.StringFlag{Name: "runtimes", Usage: "TOML runtime registry (default RUNTIMES_FILE)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conf, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			var rts []languages.RuntimeConfig
			if cmd.Bool("db") {
				db, err := database.New(conf, logger)
				if err != nil {
					return err
				}
				defer db.Close()

				repo := database.NewRuntimeRepository(db)
				if cmd.Bool("seed") {
					if err := db.Migrate(ctx); err != nil {
						return err
					}
					if err := server.SeedRuntimes(ctx, repo, logger); err != nil {
						return err
					}
				}
				if rts, err = repo.List(ctx); err != nil {
					return err
				}
			} else {
				registry, err := loadRegistry(cmd.String("runtimes"), conf.Grader.RuntimesFile)
				if err != nil {
					return err
				}
				rts, _ = registry.List(ctx)
			}

			sb, err := sandbox.NewDockerSandbox(logger, conf.Grader.OutputCapBytes)
			if err != nil {
				return err
			}
			defer sb.Close()

			printRuntimes(os.Stdout, rts, func(img string) sandbox.RuntimeStatus { return sb.Probe(ctx, img) })
			return nil
		},
	}
}

// loadRegistry returns the built-in runtimes, overlaid by the first non-empty
// file path given.
func loadRegistry(paths ...string) (*languages.Registry, error) {
	registry := languages.NewRegistry()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := registry.LoadFile(p); err != nil {
			return nil, err
		}
		break
	}
	return registry, nil
}
