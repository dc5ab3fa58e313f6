package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/config"
	"github.com/meikuraledutech/buildgraph/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.loadDefinitions(ctx); err != nil {
			return err
		}

		if a.settings.Watch {
			watcher, err := config.NewWatcher(config.NewOsLoader(), a.svc, a.settings.TasksPath(), a.settings.BuildsPath(), a.logger)
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
		}

		router := newRouter(a.svc, a.logger)
		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down")
			if err := router.Shutdown(); err != nil {
				a.logger.Error("shutdown", "error", err)
			}
		}()

		a.logger.Info("listening", "addr", a.settings.ListenAddr)
		return router.Listen(a.settings.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newRouter(svc *service.Service, logger *slog.Logger) *fiber.App {
	app := fiber.New()

	app.Get("/health", func(c fiber.Ctx) error {
		if err := svc.Ping(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"status": "down", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ── Tasks ─────────────────────────────────────────────────────────
	app.Post("/tasks", func(c fiber.Ctx) error {
		var t buildgraph.Task
		if err := c.Bind().JSON(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if err := svc.CreateTask(c.Context(), &t); err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(t)
	})

	app.Get("/tasks", func(c fiber.Ctx) error {
		tasks, err := svc.ListTasks(c.Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(tasks)
	})

	app.Get("/tasks/:name", func(c fiber.Ctx) error {
		t, err := svc.GetTask(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(t)
	})

	app.Put("/tasks/:name", func(c fiber.Ctx) error {
		var t buildgraph.Task
		if err := c.Bind().JSON(&t); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		t.Name = c.Params("name")
		if err := svc.UpdateTask(c.Context(), &t); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	app.Delete("/tasks/:name", func(c fiber.Ctx) error {
		if err := svc.DeleteTask(c.Context(), c.Params("name")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	// ── Builds ────────────────────────────────────────────────────────
	app.Post("/builds", func(c fiber.Ctx) error {
		var b buildgraph.Build
		if err := c.Bind().JSON(&b); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if err := svc.CreateBuild(c.Context(), &b); err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(b)
	})

	app.Get("/builds", func(c fiber.Ctx) error {
		builds, err := svc.ListBuilds(c.Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(builds)
	})

	app.Get("/builds/:name", func(c fiber.Ctx) error {
		b, err := svc.GetBuild(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(b)
	})

	app.Put("/builds/:name", func(c fiber.Ctx) error {
		var b buildgraph.Build
		if err := c.Bind().JSON(&b); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		b.Name = c.Params("name")
		if err := svc.UpdateBuild(c.Context(), &b); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	app.Delete("/builds/:name", func(c fiber.Ctx) error {
		if err := svc.DeleteBuild(c.Context(), c.Params("name")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	// ── Topology ──────────────────────────────────────────────────────
	app.Post("/builds/:name/sort", func(c fiber.Ctx) error {
		opts, err := parseResolveOptions(c)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		result, err := svc.Resolve(c.Context(), c.Params("name"), opts)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(result)
	})

	app.Get("/builds/:name/cycles", func(c fiber.Ctx) error {
		cycles, err := svc.BuildCycles(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"cycles": cycles})
	})

	app.Get("/builds/:name/validate", func(c fiber.Ctx) error {
		missing, err := svc.ValidateBuild(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"valid": len(missing) == 0, "missing": missing})
	})

	app.Get("/cycles", func(c fiber.Ctx) error {
		cycles, err := svc.Cycles(c.Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"cycles": cycles})
	})

	// ── Executions ────────────────────────────────────────────────────
	app.Post("/builds/:name/execute", func(c fiber.Ctx) error {
		opts, err := parseResolveOptions(c)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		exec, err := svc.Execute(c.Context(), c.Params("name"), opts)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(202).JSON(exec)
	})

	app.Get("/builds/:name/status", func(c fiber.Ctx) error {
		state, err := svc.BuildState(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(state)
	})

	app.Get("/executions", func(c fiber.Ctx) error {
		return c.JSON(svc.ListExecutions())
	})

	app.Get("/executions/:id", func(c fiber.Ctx) error {
		exec, err := svc.GetExecution(c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(exec)
	})

	app.Delete("/executions/:id", func(c fiber.Ctx) error {
		if err := svc.CancelExecution(c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(204)
	})

	// ── Admin ─────────────────────────────────────────────────────────
	app.Post("/cache/invalidate", func(c fiber.Ctx) error {
		build := c.Query("build")
		svc.InvalidateCache(c.Context(), build)
		logger.Info("cache invalidated over http", "build", build)
		return c.JSON(fiber.Map{"message": "cache invalidated"})
	})

	return app
}

// fail translates coordinator errors to HTTP statuses: structured
// topology failures map to 422 with their detail, lookups to 404,
// conflicts to 409, rejected input to 400 and the rest to 500.
func fail(c fiber.Ctx, err error) error {
	var missing *buildgraph.MissingTasksError
	var cyc *buildgraph.CycleError
	var sortErr *buildgraph.SortError
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &missing):
		return c.Status(422).JSON(fiber.Map{"error": "missing tasks", "missing": missing.Names})
	case errors.As(err, &cyc):
		return c.Status(422).JSON(fiber.Map{"error": "cycle detected", "cycles": cyc.Cycles})
	case errors.As(err, &sortErr):
		return c.Status(422).JSON(fiber.Map{"error": sortErr.Error()})
	case errors.As(err, &verr), errors.Is(err, buildgraph.ErrSelfDependency):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, buildgraph.ErrTaskNotFound),
		errors.Is(err, buildgraph.ErrBuildNotFound),
		errors.Is(err, buildgraph.ErrExecutionNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, buildgraph.ErrTaskExists),
		errors.Is(err, buildgraph.ErrBuildExists),
		errors.Is(err, buildgraph.ErrTaskReferenced),
		errors.Is(err, buildgraph.ErrBuildRunning),
		errors.Is(err, buildgraph.ErrExecutionFinished):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(500).JSON(fiber.Map{"error": err.Error()})
}

func parseResolveOptions(c fiber.Ctx) (service.ResolveOptions, error) {
	var opts service.ResolveOptions
	switch algo := c.Query("algorithm"); algo {
	case "", string(buildgraph.AlgorithmKahn):
		opts.Algorithm = buildgraph.AlgorithmKahn
	case string(buildgraph.AlgorithmDFS):
		opts.Algorithm = buildgraph.AlgorithmDFS
	default:
		return opts, fmt.Errorf("unknown algorithm %q", algo)
	}
	if raw := c.Query("cache"); raw != "" {
		useCache, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid cache flag %q", raw)
		}
		opts.NoCache = !useCache
	}
	return opts, nil
}
