package buildgraph

import "context"

// Store defines the contract for persisting and retrieving tasks and
// builds. Single-record lookups return nil, nil when the record does not
// exist. Bulk puts are atomic: either every record lands or none does.
// Implementations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	Ping(ctx context.Context) error

	// Tasks
	PutTask(ctx context.Context, t *Task) error
	PutTasks(ctx context.Context, tasks []Task) error
	GetTask(ctx context.Context, name string) (*Task, error)
	GetTasks(ctx context.Context, names []string) (map[string]*Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	HasTask(ctx context.Context, name string) (bool, error)
	ListDependents(ctx context.Context, name string) ([]string, error)
	UpdateTaskStatus(ctx context.Context, name string, status TaskStatus, detail string) error
	DeleteTask(ctx context.Context, name string) error

	// Builds
	PutBuild(ctx context.Context, b *Build) error
	PutBuilds(ctx context.Context, builds []Build) error
	GetBuild(ctx context.Context, name string) (*Build, error)
	ListBuilds(ctx context.Context) ([]Build, error)
	HasBuild(ctx context.Context, name string) (bool, error)
	UpdateBuildStatus(ctx context.Context, name string, status BuildStatus, detail string) error
	DeleteBuild(ctx context.Context, name string) error
}
