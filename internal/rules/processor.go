package rules

// Processor holds the rule catalogue per resource category.
type Processor struct {
	project        []Rule
	repository     []Rule
	build          []Rule
	yamlRelease    []Rule
	classicRelease []Rule
}

// NewProcessor creates a processor over the given categories. A rule may be
// registered in more than one category.
func NewProcessor(project, repository, build, yamlRelease, classicRelease []Rule) *Processor {
	return &Processor{
		project:        project,
		repository:     repository,
		build:          build,
		yamlRelease:    yamlRelease,
		classicRelease: classicRelease,
	}
}

// GetAllRules returns the distinct union of every category, in category order.
func (p *Processor) GetAllRules() []Rule {
	seen := make(map[Rule]bool)
	names := make(map[Name]bool)
	var all []Rule
	for _, category := range [][]Rule{p.project, p.repository, p.build, p.yamlRelease, p.classicRelease} {
		for _, rule := range category {
			if rule == nil || seen[rule] {
				continue
			}
			seen[rule] = true
			if name := rule.Name(); name != "" {
				if names[name] {
					continue
				}
				names[name] = true
			}
			all = append(all, rule)
		}
	}
	return all
}

func (p *Processor) GetAllProjectRules() []Rule        { return p.project }
func (p *Processor) GetAllRepositoryRules() []Rule     { return p.repository }
func (p *Processor) GetAllBuildRules() []Rule          { return p.build }
func (p *Processor) GetAllYamlReleaseRules() []Rule    { return p.yamlRelease }
func (p *Processor) GetAllClassicReleaseRules() []Rule { return p.classicRelease }

// ForKind returns the rules of the category evaluating kind.
func (p *Processor) ForKind(kind ResourceKind) []Rule {
	switch kind {
	case KindProject:
		return p.project
	case KindRepository:
		return p.repository
	case KindBuildDefinition:
		return p.build
	case KindReleaseDefinitionYaml:
		return p.yamlRelease
	case KindReleaseDefinitionClassic:
		return p.classicRelease
	}
	return nil
}

// GetAllByRuleProfile keeps the rules whose name is in the profile. Rules
// without a name are dropped.
func GetAllByRuleProfile(rules []Rule, profile Profile) []Rule {
	var filtered []Rule
	for _, rule := range rules {
		if rule == nil || rule.Name() == "" {
			continue
		}
		if profile.Has(rule.Name()) {
			filtered = append(filtered, rule)
		}
	}
	return filtered
}

// ReconcileProcessor holds the reconcilable rules.
type ReconcileProcessor struct {
	items    []Reconciler
	projects []ProjectReconciler
}

// NewReconcileProcessor creates a reconcile processor.
func NewReconcileProcessor(items []Reconciler, projects []ProjectReconciler) *ReconcileProcessor {
	return &ReconcileProcessor{items: items, projects: projects}
}

func (p *ReconcileProcessor) GetAllItemReconcile() []Reconciler           { return p.items }
func (p *ReconcileProcessor) GetAllProjectReconcile() []ProjectReconciler { return p.projects }

// FindItemReconcile returns the item reconciler called name.
func (p *ReconcileProcessor) FindItemReconcile(name Name) (Reconciler, bool) {
	for _, r := range p.items {
		if HasRuleName(r, name) {
			return r, true
		}
	}
	return nil, false
}

// FindProjectReconcile returns the project reconciler called name.
func (p *ReconcileProcessor) FindProjectReconcile(name Name) (ProjectReconciler, bool) {
	for _, r := range p.projects {
		if HasRuleName(r, name) {
			return r, true
		}
	}
	return nil, false
}

// IsReconcilable reports whether a reconciler exists for name.
func (p *ReconcileProcessor) IsReconcilable(name Name) bool {
	if _, ok := p.FindItemReconcile(name); ok {
		return true
	}
	_, ok := p.FindProjectReconcile(name)
	return ok
}

// HasRuleName reports whether rule is called name.
func HasRuleName(rule Rule, name Name) bool {
	return rule != nil && rule.Name() != "" && rule.Name() == name
}
