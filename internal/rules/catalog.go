package rules

// Catalog builds the processors holding every known rule. Reconcilable
// rules use permissions and loader to write and verify deny entries.
func Catalog(permissions PermissionsClient, loader ResourceLoader) (*Processor, *ReconcileProcessor) {
	teamProject := NewNobodyCanDeleteTheTeamProject(permissions, loader)
	repository := NewNobodyCanDeleteTheRepository(permissions, loader)
	builds := NewNobodyCanDeleteBuilds(permissions, loader)
	releases := NewNobodyCanDeleteReleases(permissions, loader)

	processor := NewProcessor(
		[]Rule{teamProject},
		[]Rule{repository},
		[]Rule{
			builds,
			NewBuildPipelineHasSonarqubeTask(),
			NewBuildPipelineHasFortifyTask(),
			NewBuildPipelineHasNexusIqTask(),
			NewBuildPipelineFollowsMainframeCobolProcess(),
		},
		[]Rule{
			builds,
			NewYamlReleasePipelineHasSm9ChangeTask(),
			NewYamlReleasePipelineIsBlockedWithout4EyesApproval(),
		},
		[]Rule{
			releases,
			NewClassicReleasePipelineHasSm9ChangeTask(),
			NewClassicReleasePipelineIsBlockedWithout4EyesApproval(),
		},
	)

	reconcile := NewReconcileProcessor(
		[]Reconciler{repository, builds, releases},
		[]ProjectReconciler{teamProject},
	)
	return processor, reconcile
}
