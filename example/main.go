package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/badger"
	"github.com/meikuraledutech/buildgraph/cache"
	"github.com/meikuraledutech/buildgraph/memory"
	"github.com/meikuraledutech/buildgraph/service"
)

func main() {
	ctx := context.Background()

	// Everything runs in memory: the store loses its contents on exit
	// and the badger-backed result cache never touches disk.
	backend, err := badger.Open(badger.InMemoryConfig())
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer backend.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(service.Config{
		Store:  memory.New(),
		Cache:  cache.New(backend, time.Hour, logger),
		Logger: logger,
	})

	// ── Define a small pipeline ───────────────────────────────────────
	tasks := []buildgraph.Task{
		{Name: "fetch"},
		{Name: "generate", Requires: []string{"fetch"}},
		{Name: "compile", Requires: []string{"fetch", "generate"}},
		{Name: "test", Requires: []string{"compile"}},
		{Name: "package", Requires: []string{"compile", "test"}},
	}
	for i := range tasks {
		if err := svc.CreateTask(ctx, &tasks[i]); err != nil {
			log.Fatalf("create task %s: %v", tasks[i].Name, err)
		}
	}
	if err := svc.CreateBuild(ctx, &buildgraph.Build{
		Name:  "release",
		Tasks: []string{"package", "test", "compile", "generate", "fetch"},
	}); err != nil {
		log.Fatalf("create build: %v", err)
	}
	fmt.Printf("defined %d tasks and the release build\n", len(tasks))

	// ── Sort with both algorithms ─────────────────────────────────────
	kahn, err := svc.Resolve(ctx, "release", service.ResolveOptions{Algorithm: buildgraph.AlgorithmKahn})
	if err != nil {
		log.Fatalf("resolve kahn: %v", err)
	}
	fmt.Printf("\nkahn order:  %s\n", strings.Join(kahn.Tasks, " -> "))

	dfs, err := svc.Resolve(ctx, "release", service.ResolveOptions{Algorithm: buildgraph.AlgorithmDFS})
	if err != nil {
		log.Fatalf("resolve dfs: %v", err)
	}
	fmt.Printf("dfs order:   %s\n", strings.Join(dfs.Tasks, " -> "))

	// ── Cache round trip ──────────────────────────────────────────────
	// The second resolve returns the stored result: same creation stamp.
	again, err := svc.Resolve(ctx, "release", service.ResolveOptions{Algorithm: buildgraph.AlgorithmKahn})
	if err != nil {
		log.Fatalf("resolve again: %v", err)
	}
	fmt.Printf("\ncache round trip: first computed at %s, served again from %s (cached: %v)\n",
		kahn.CreatedAt.Format(time.RFC3339Nano),
		again.CreatedAt.Format(time.RFC3339Nano),
		kahn.CreatedAt.Equal(again.CreatedAt))

	// ── Provoke a cycle ───────────────────────────────────────────────
	// Prerequisites must exist at creation time, so a cycle can only
	// form through an update. It is caught when the build is resolved.
	if err := svc.CreateTask(ctx, &buildgraph.Task{Name: "sign"}); err != nil {
		log.Fatalf("create task sign: %v", err)
	}
	if err := svc.CreateTask(ctx, &buildgraph.Task{Name: "notarize", Requires: []string{"sign"}}); err != nil {
		log.Fatalf("create task notarize: %v", err)
	}
	if err := svc.UpdateTask(ctx, &buildgraph.Task{Name: "sign", Requires: []string{"notarize"}}); err != nil {
		log.Fatalf("update task sign: %v", err)
	}
	if err := svc.CreateBuild(ctx, &buildgraph.Build{Name: "distribute", Tasks: []string{"sign", "notarize"}}); err != nil {
		log.Fatalf("create build distribute: %v", err)
	}

	_, err = svc.Resolve(ctx, "distribute", service.ResolveOptions{})
	var cyc *buildgraph.CycleError
	if !errors.As(err, &cyc) {
		log.Fatalf("expected a cycle, got: %v", err)
	}
	fmt.Println("\nresolving distribute failed as expected:")
	for _, cycle := range cyc.Cycles {
		fmt.Printf("  cycle: %s\n", strings.Join(cycle, " -> "))
	}

	// ── Full result shape ─────────────────────────────────────────────
	fmt.Println("\nsorted task list:")
	printJSON(kahn)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
