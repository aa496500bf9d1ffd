package pipeline

import (
	"errors"
	"strings"
)

// ErrEmptyTask is returned when a task specification has neither id nor name.
var ErrEmptyTask = errors.New("a defined pipeline task needs an id or a name")

// Task is a single invocation of a catalog task.
type Task struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name"`
	Version      string            `json:"version,omitempty"`
	FullTaskName string            `json:"fullTaskName"`
	Inputs       map[string]string `json:"inputs,omitempty"`
	Enabled      bool              `json:"enabled"`
}

// NormalizeTaskName reduces a task reference of the form
// prefix.taskNameOrId@version to taskNameOrId.
func NormalizeTaskName(fullTaskName string) string {
	name := strings.TrimSpace(fullTaskName)
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// splitTaskReference splits a task reference into its normalized name and version.
func splitTaskReference(ref string) (name, version string) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "@"); i >= 0 {
		version = ref[i+1:]
	}
	return NormalizeTaskName(ref), version
}

// HasTaskNameOrIdAndIsEnabled reports whether the task is enabled and is the
// catalog task identified by nameOrID.
func (t Task) HasTaskNameOrIdAndIsEnabled(nameOrID string) bool {
	if !t.Enabled || nameOrID == "" {
		return false
	}
	return equalFold(NormalizeTaskName(t.FullTaskName), nameOrID) ||
		equalFold(t.ID, nameOrID) ||
		equalFold(t.Name, nameOrID)
}

// InputKind selects how an expected input is matched.
type InputKind int

const (
	// InvariantValue requires a non-empty value.
	InvariantValue InputKind = iota
	// SpecificValue requires an exact value.
	SpecificValue
)

// ExpectedInputValue is a constraint on one task input.
type ExpectedInputValue struct {
	Key   string
	Value string
	Kind  InputKind
}

// Satisfied reports whether inputs meet the constraint. Keys are matched case-insensitively.
func (e ExpectedInputValue) Satisfied(inputs map[string]string) bool {
	for key, value := range inputs {
		if !equalFold(key, e.Key) {
			continue
		}
		switch e.Kind {
		case SpecificValue:
			return value == e.Value
		default:
			return strings.TrimSpace(value) != ""
		}
	}
	return false
}

// DefinedPipelineTask describes what a compliant task invocation looks like.
type DefinedPipelineTask struct {
	ID     string
	Name   string
	Inputs []ExpectedInputValue
}

// Matches reports whether task is an enabled invocation of the defined task
// whose inputs satisfy every constraint. With ignoreInputs only the task
// identity is compared.
func (d DefinedPipelineTask) Matches(task Task, ignoreInputs bool) bool {
	if !task.HasTaskNameOrIdAndIsEnabled(d.ID) && !task.HasTaskNameOrIdAndIsEnabled(d.Name) {
		return false
	}
	if ignoreInputs {
		return true
	}
	for _, expected := range d.Inputs {
		if !expected.Satisfied(task.Inputs) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether any of tasks matches.
func (d DefinedPipelineTask) MatchesAny(tasks []Task, ignoreInputs bool) bool {
	for _, task := range tasks {
		if d.Matches(task, ignoreInputs) {
			return true
		}
	}
	return false
}

// TaskBuilder assembles a DefinedPipelineTask.
type TaskBuilder struct {
	task DefinedPipelineTask
}

// NewTaskBuilder starts a new task specification.
func NewTaskBuilder() *TaskBuilder {
	return &TaskBuilder{}
}

// WithID sets the catalog task id.
func (b *TaskBuilder) WithID(id string) *TaskBuilder {
	b.task.ID = strings.TrimSpace(id)
	return b
}

// WithName sets the catalog task name.
func (b *TaskBuilder) WithName(name string) *TaskBuilder {
	b.task.Name = strings.TrimSpace(name)
	return b
}

// WithInvariantInput requires key to have any non-empty value.
func (b *TaskBuilder) WithInvariantInput(key string) *TaskBuilder {
	b.task.Inputs = append(b.task.Inputs, ExpectedInputValue{Key: key, Kind: InvariantValue})
	return b
}

// WithSpecificInput requires key to equal value.
func (b *TaskBuilder) WithSpecificInput(key, value string) *TaskBuilder {
	b.task.Inputs = append(b.task.Inputs, ExpectedInputValue{Key: key, Value: value, Kind: SpecificValue})
	return b
}

// Build returns the task specification.
func (b *TaskBuilder) Build() (DefinedPipelineTask, error) {
	if b.task.ID == "" && b.task.Name == "" {
		return DefinedPipelineTask{}, ErrEmptyTask
	}
	return b.task, nil
}

// MustBuild is like Build but panics on an empty specification. It is meant
// for package level rule catalogues.
func (b *TaskBuilder) MustBuild() DefinedPipelineTask {
	task, err := b.Build()
	if err != nil {
		panic(err)
	}
	return task
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
