package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTaskName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Contoso.dbb-build@2", "dbb-build"},
		{"dbb-build@1", "dbb-build"},
		{"dbb-build", "dbb-build"},
		{"a.b.SonarQubeAnalyze@5", "SonarQubeAnalyze"},
		{"6d01813a-9589-4b15-8491-8164aeb38055@1", "6d01813a-9589-4b15-8491-8164aeb38055"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTaskName(tt.in))
		})
	}
}

func TestHasTaskNameOrIdAndIsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		expected string
		want     bool
	}{
		{"prefixed and versioned", Task{FullTaskName: "Contoso.dbb-build@2", Enabled: true}, "dbb-build", true},
		{"case insensitive", Task{FullTaskName: "Contoso.DBB-Build@2", Enabled: true}, "dbb-build", true},
		{"disabled never matches", Task{FullTaskName: "dbb-build@1", Enabled: false}, "dbb-build", false},
		{"by id", Task{ID: "ABC-123", FullTaskName: "ABC-123@1", Enabled: true}, "abc-123", true},
		{"other task", Task{FullTaskName: "Bash@3", Enabled: true}, "dbb-build", false},
		{"empty expectation", Task{FullTaskName: "Bash@3", Enabled: true}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.HasTaskNameOrIdAndIsEnabled(tt.expected))
		})
	}
}

func TestDefinedPipelineTaskMatches(t *testing.T) {
	defined := NewTaskBuilder().
		WithName("NexusIqPipelineTask").
		WithInvariantInput("applicationId").
		WithSpecificInput("stage", "build").
		MustBuild()

	tests := []struct {
		name         string
		task         Task
		ignoreInputs bool
		want         bool
	}{
		{
			name: "all inputs satisfied",
			task: Task{FullTaskName: "NexusIqPipelineTask@1", Enabled: true, Inputs: map[string]string{"applicationId": "app", "Stage": "build"}},
			want: true,
		},
		{
			name: "invariant input empty",
			task: Task{FullTaskName: "NexusIqPipelineTask@1", Enabled: true, Inputs: map[string]string{"applicationId": " ", "stage": "build"}},
			want: false,
		},
		{
			name: "specific input differs",
			task: Task{FullTaskName: "NexusIqPipelineTask@1", Enabled: true, Inputs: map[string]string{"applicationId": "app", "stage": "release"}},
			want: false,
		},
		{
			name:         "inputs ignored",
			task:         Task{FullTaskName: "NexusIqPipelineTask@1", Enabled: true},
			ignoreInputs: true,
			want:         true,
		},
		{
			name:         "disabled with inputs ignored",
			task:         Task{FullTaskName: "NexusIqPipelineTask@1", Enabled: false},
			ignoreInputs: true,
			want:         false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, defined.Matches(tt.task, tt.ignoreInputs))
		})
	}
}

func TestTaskBuilderRejectsEmptyTask(t *testing.T) {
	_, err := NewTaskBuilder().WithID(" ").WithName("").Build()
	require.ErrorIs(t, err, ErrEmptyTask)

	assert.Panics(t, func() { NewTaskBuilder().MustBuild() })

	task, err := NewTaskBuilder().WithID("id").Build()
	require.NoError(t, err)
	assert.Equal(t, "id", task.ID)
}

func TestPermissionAllows(t *testing.T) {
	assert.True(t, Permission{Allow: PermissionDeleteRepository}.Allows(PermissionDeleteRepository))
	assert.False(t, Permission{Allow: PermissionDeleteRepository, Deny: PermissionDeleteRepository}.Allows(PermissionDeleteRepository))
	assert.False(t, Permission{Allow: PermissionDeleteBuilds}.Allows(PermissionDeleteRepository))
}
