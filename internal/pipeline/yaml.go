package pipeline

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// InvalidYamlPipelineError is returned when a pipeline document cannot be
// turned into a Body.
type InvalidYamlPipelineError struct {
	PipelineID   string
	PipelineName string
	Err          error
}

// Error implements the error interface.
func (e *InvalidYamlPipelineError) Error() string {
	return fmt.Sprintf("invalid yaml for pipeline %s (%s): %v", e.PipelineName, e.PipelineID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InvalidYamlPipelineError) Unwrap() error {
	return e.Err
}

// Shorthand steps and the catalog tasks they expand to.
var shorthandTasks = map[string]string{
	"script":     "CmdLine@2",
	"bash":       "Bash@3",
	"powershell": "PowerShell@2",
	"pwsh":       "PowerShell@2",
}

type yamlPipeline struct {
	Stages    []yamlStage   `yaml:"stages"`
	Jobs      []yamlJob     `yaml:"jobs"`
	Steps     []yamlStep    `yaml:"steps"`
	Trigger   yaml.Node     `yaml:"trigger"`
	PR        yaml.Node     `yaml:"pr"`
	Resources yamlResources `yaml:"resources"`
}

type yamlStage struct {
	Stage       string    `yaml:"stage"`
	DisplayName string    `yaml:"displayName"`
	Template    string    `yaml:"template"`
	Jobs        []yamlJob `yaml:"jobs"`
}

type yamlJob struct {
	Job         string          `yaml:"job"`
	Deployment  string          `yaml:"deployment"`
	Template    string          `yaml:"template"`
	Environment yamlEnvironment `yaml:"environment"`
	Steps       []yamlStep      `yaml:"steps"`
	Strategy    yamlStrategy    `yaml:"strategy"`
}

// yamlEnvironment accepts both `environment: name` and `environment: {name: ...}`.
type yamlEnvironment struct {
	Name string
}

func (e *yamlEnvironment) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		e.Name = value.Value
		return nil
	case yaml.MappingNode:
		var env struct {
			Name string `yaml:"name"`
		}
		if err := value.Decode(&env); err != nil {
			return err
		}
		e.Name = env.Name
		return nil
	}
	return fmt.Errorf("line %d: unsupported environment definition", value.Line)
}

type yamlStrategy struct {
	RunOnce *yamlLifecycle `yaml:"runOnce"`
	Rolling *yamlLifecycle `yaml:"rolling"`
	Canary  *yamlLifecycle `yaml:"canary"`
}

type yamlLifecycle struct {
	PreDeploy        *yamlHook `yaml:"preDeploy"`
	Deploy           *yamlHook `yaml:"deploy"`
	RouteTraffic     *yamlHook `yaml:"routeTraffic"`
	PostRouteTraffic *yamlHook `yaml:"postRouteTraffic"`
	On               struct {
		Failure *yamlHook `yaml:"failure"`
		Success *yamlHook `yaml:"success"`
	} `yaml:"on"`
}

type yamlHook struct {
	Steps []yamlStep `yaml:"steps"`
}

// steps returns the steps of every lifecycle hook in execution order.
func (l *yamlLifecycle) steps() []yamlStep {
	if l == nil {
		return nil
	}
	var steps []yamlStep
	for _, hook := range []*yamlHook{l.PreDeploy, l.Deploy, l.RouteTraffic, l.PostRouteTraffic, l.On.Failure, l.On.Success} {
		if hook != nil {
			steps = append(steps, hook.Steps...)
		}
	}
	return steps
}

type yamlStep struct {
	Task        string                 `yaml:"task"`
	Script      *string                `yaml:"script"`
	Bash        *string                `yaml:"bash"`
	PowerShell  *string                `yaml:"powershell"`
	Pwsh        *string                `yaml:"pwsh"`
	Checkout    string                 `yaml:"checkout"`
	Template    string                 `yaml:"template"`
	DisplayName string                 `yaml:"displayName"`
	Enabled     *bool                  `yaml:"enabled"`
	Inputs      map[string]interface{} `yaml:"inputs"`
}

type yamlResources struct {
	Repositories []struct {
		Repository string `yaml:"repository"`
		Type       string `yaml:"type"`
		Name       string `yaml:"name"`
		Ref        string `yaml:"ref"`
	} `yaml:"repositories"`
	Pipelines []struct {
		Pipeline string `yaml:"pipeline"`
		Source   string `yaml:"source"`
		Project  string `yaml:"project"`
	} `yaml:"pipelines"`
}

// ParseYAML converts a (template expanded) YAML pipeline document into a Body.
func ParseYAML(pipelineID, pipelineName string, raw []byte) (*Body, error) {
	invalid := func(err error) error {
		return &InvalidYamlPipelineError{PipelineID: pipelineID, PipelineName: pipelineName, Err: err}
	}

	var doc yamlPipeline
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, invalid(err)
	}

	body := &Body{Stages: []Stage{}}
	switch {
	case len(doc.Stages) > 0:
		seen := make(map[string]bool, len(doc.Stages))
		for i, s := range doc.Stages {
			if s.Template != "" {
				continue
			}
			id := strings.TrimSpace(s.Stage)
			if id == "" {
				id = fmt.Sprintf("Stage_%d", i+1)
			}
			if seen[lower(id)] {
				return nil, invalid(fmt.Errorf("duplicate stage name %q", id))
			}
			seen[lower(id)] = true
			body.Stages = append(body.Stages, Stage{
				ID:          id,
				DisplayName: firstNonEmpty(s.DisplayName, id),
				Jobs:        convertJobs(s.Jobs),
			})
		}
	case len(doc.Jobs) > 0:
		body.Stages = append(body.Stages, Stage{ID: DefaultName, DisplayName: DefaultName, Jobs: convertJobs(doc.Jobs)})
	case len(doc.Steps) > 0:
		body.Stages = append(body.Stages, Stage{
			ID:          DefaultName,
			DisplayName: DefaultName,
			Jobs:        []Job{{Name: DefaultName, Tasks: convertSteps(doc.Steps)}},
		})
	}

	ci, err := parseTrigger("ci", &doc.Trigger)
	if err != nil {
		return nil, invalid(err)
	}
	pr, err := parseTrigger("pr", &doc.PR)
	if err != nil {
		return nil, invalid(err)
	}
	body.Triggers = append(ci, pr...)

	for _, repo := range doc.Resources.Repositories {
		body.Resources = append(body.Resources, Resource{Kind: "repository", Alias: repo.Repository, Type: repo.Type, Name: repo.Name, Ref: repo.Ref})
	}
	for _, p := range doc.Resources.Pipelines {
		body.Resources = append(body.Resources, Resource{Kind: "pipeline", Alias: p.Pipeline, Name: p.Source, Ref: p.Project})
	}

	return body, nil
}

func convertJobs(jobs []yamlJob) []Job {
	result := make([]Job, 0, len(jobs))
	for i, j := range jobs {
		if j.Template != "" {
			continue
		}
		name := firstNonEmpty(j.Job, j.Deployment, fmt.Sprintf("Job_%d", i+1))
		steps := j.Steps
		if j.Deployment != "" {
			steps = append(steps, j.Strategy.RunOnce.steps()...)
			steps = append(steps, j.Strategy.Rolling.steps()...)
			steps = append(steps, j.Strategy.Canary.steps()...)
		}
		result = append(result, Job{
			Name:        name,
			Environment: j.Environment.Name,
			Tasks:       convertSteps(steps),
		})
	}
	return result
}

// inputValue renders a task input as a string. Inputs without a value are empty.
func inputValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(value)
	default:
		out, err := yaml.Marshal(value)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
}

func convertSteps(steps []yamlStep) []Task {
	tasks := make([]Task, 0, len(steps))
	for _, step := range steps {
		ref := step.Task
		inputs := make(map[string]string, len(step.Inputs))
		for k, v := range step.Inputs {
			inputs[k] = inputValue(v)
		}

		for key, script := range map[string]*string{
			"script":     step.Script,
			"bash":       step.Bash,
			"powershell": step.PowerShell,
			"pwsh":       step.Pwsh,
		} {
			if script == nil {
				continue
			}
			ref = shorthandTasks[key]
			inputs["script"] = *script
		}
		if ref == "" {
			// checkout, template and unknown steps are not catalog tasks
			continue
		}

		name, version := splitTaskReference(ref)
		tasks = append(tasks, Task{
			Name:         name,
			Version:      version,
			FullTaskName: ref,
			Inputs:       inputs,
			Enabled:      step.Enabled == nil || *step.Enabled,
		})
	}
	return tasks
}

// parseTrigger understands `trigger: none`, a branch list, and the
// `branches: {include: [...]}` mapping form.
func parseTrigger(kind string, node *yaml.Node) ([]Trigger, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if strings.EqualFold(node.Value, "none") || strings.EqualFold(node.Value, "false") {
			return []Trigger{{Type: kind, Disabled: true}}, nil
		}
		return []Trigger{{Type: kind, Branches: []string{node.Value}}}, nil
	case yaml.SequenceNode:
		var branches []string
		if err := node.Decode(&branches); err != nil {
			return nil, err
		}
		return []Trigger{{Type: kind, Branches: branches}}, nil
	case yaml.MappingNode:
		var t struct {
			Enabled  *bool `yaml:"enabled"`
			Branches struct {
				Include []string `yaml:"include"`
			} `yaml:"branches"`
		}
		if err := node.Decode(&t); err != nil {
			return nil, err
		}
		return []Trigger{{Type: kind, Branches: t.Branches.Include, Disabled: t.Enabled != nil && !*t.Enabled}}, nil
	}
	return nil, fmt.Errorf("line %d: unsupported %s trigger", node.Line, kind)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
