package config

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/meikuraledutech/buildgraph"
)

// TaskDefinition is the on-disk form of a task.
type TaskDefinition struct {
	Name     string   `yaml:"name"`
	Requires []string `yaml:"requires"`
}

// BuildDefinition is the on-disk form of a build.
type BuildDefinition struct {
	Name  string   `yaml:"name"`
	Tasks []string `yaml:"tasks"`
}

type taskFile struct {
	Tasks []TaskDefinition `yaml:"tasks"`
}

type buildFile struct {
	Builds []BuildDefinition `yaml:"builds"`
}

// Loader reads definition files through an afero filesystem, so tests
// can run against an in-memory one.
type Loader struct {
	fs afero.Fs
}

// NewLoader creates a loader over fs.
func NewLoader(fs afero.Fs) *Loader {
	return &Loader{fs: fs}
}

// NewOsLoader creates a loader over the operating system filesystem.
func NewOsLoader() *Loader {
	return NewLoader(afero.NewOsFs())
}

// LoadTasks reads a tasks.yaml file and returns validated task records
// with pending status. Duplicate names and self-dependencies are
// rejected. A missing file surfaces as fs.ErrNotExist.
func (l *Loader) LoadTasks(path string) ([]buildgraph.Task, error) {
	raw, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: read %s: %w", path, err)
	}

	var file taskFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("buildgraph: parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Tasks))
	tasks := make([]buildgraph.Task, 0, len(file.Tasks))
	for _, def := range file.Tasks {
		if seen[def.Name] {
			return nil, fmt.Errorf("buildgraph: %s: duplicate task %q", path, def.Name)
		}
		seen[def.Name] = true

		task := buildgraph.Task{
			Name:     def.Name,
			Requires: def.Requires,
			Status:   buildgraph.TaskPending,
		}
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("buildgraph: %s: task %q: %w", path, def.Name, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// LoadBuilds reads a builds.yaml file and returns validated build
// records with pending status. Duplicate names are rejected. A missing
// file surfaces as fs.ErrNotExist.
func (l *Loader) LoadBuilds(path string) ([]buildgraph.Build, error) {
	raw, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("buildgraph: read %s: %w", path, err)
	}

	var file buildFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("buildgraph: parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Builds))
	builds := make([]buildgraph.Build, 0, len(file.Builds))
	for _, def := range file.Builds {
		if seen[def.Name] {
			return nil, fmt.Errorf("buildgraph: %s: duplicate build %q", path, def.Name)
		}
		seen[def.Name] = true

		build := buildgraph.Build{
			Name:   def.Name,
			Tasks:  def.Tasks,
			Status: buildgraph.BuildPending,
		}
		if err := build.Validate(); err != nil {
			return nil, fmt.Errorf("buildgraph: %s: build %q: %w", path, def.Name, err)
		}
		builds = append(builds, build)
	}
	return builds, nil
}
