package aztable

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/complyio/complyio/internal/store"
	sharederrors "github.com/complyio/complyio/pkg/shared/errors"
)

type deviationRow struct {
	keys
	store.DeviationEntity
}

func (s *Store) GetDeviation(ctx context.Context, key store.Key) (*store.DeviationEntity, error) {
	var row deviationRow
	if err := get(ctx, s.deviations, "deviation", key, &row); err != nil {
		return nil, err
	}
	return &row.DeviationEntity, nil
}

func (s *Store) PutDeviation(ctx context.Context, deviation *store.DeviationEntity) error {
	key := deviation.Key()
	return upsert(ctx, s.deviations, deviationRow{keys{key.PartitionKey, key.RowKey}, *deviation})
}

func (s *Store) DeleteDeviation(ctx context.Context, key store.Key) error {
	return remove(ctx, s.deviations, "deviation", key)
}

func (s *Store) ListDeviations(ctx context.Context, organization, projectID string) ([]store.DeviationEntity, error) {
	prefix := store.DeviationKey(organization, projectID, "", "", "", "").RowKey
	prefix = strings.TrimRight(prefix, "|") + "|"
	rows, err := list[deviationRow](ctx, s.deviations, store.PartitionKey(organization), prefix)
	if err != nil {
		return nil, err
	}
	out := make([]store.DeviationEntity, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.DeviationEntity)
	}
	return out, nil
}

type exclusionRow struct {
	keys
	store.ExclusionEntity
}

func (s *Store) GetExclusion(ctx context.Context, key store.Key) (*store.ExclusionEntity, error) {
	var row exclusionRow
	if err := get(ctx, s.exclusions, "exclusion", key, &row); err != nil {
		return nil, err
	}
	return &row.ExclusionEntity, nil
}

// CreateExclusion inserts a new row, or replaces an expired one guarded by
// its ETag. A concurrent writer surfaces as 409 or 412 from the table service.
func (s *Store) CreateExclusion(ctx context.Context, exclusion *store.ExclusionEntity, now time.Time) error {
	key := exclusion.Key()
	payload, err := json.Marshal(exclusionRow{keys{key.PartitionKey, key.RowKey}, *exclusion})
	if err != nil {
		return err
	}

	resp, err := s.exclusions.GetEntity(ctx, key.PartitionKey, key.RowKey, nil)
	switch {
	case isNotFound(err):
		_, err = s.exclusions.AddEntity(ctx, payload, nil)
	case err != nil:
		return err
	default:
		var existing exclusionRow
		if err := json.Unmarshal(resp.Value, &existing); err != nil {
			return err
		}
		if existing.IsValid(now) {
			return exclusionConflict(key)
		}
		etag := resp.ETag
		_, err = s.exclusions.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	}
	if isConflict(err) || isPreconditionFailed(err) {
		return exclusionConflict(key)
	}
	return err
}

func exclusionConflict(key store.Key) error {
	return &sharederrors.ConflictError{Message: "exclusion " + key.String() + " already exists"}
}

// registrationRow flattens the CMDB information; tables cannot hold nested objects.
type registrationRow struct {
	keys
	Organization     string    `json:"organization"`
	ProjectID        string    `json:"projectId"`
	PipelineID       int       `json:"pipelineId"`
	PipelineType     string    `json:"pipelineType"`
	StageID          string    `json:"stageId"`
	RuleProfileName  string    `json:"ruleProfileName"`
	ShouldBeScanned  bool      `json:"shouldBeScanned"`
	IsProduction     bool      `json:"isProduction"`
	CiIdentifier     string    `json:"ciIdentifier"`
	CiName           string    `json:"ciName"`
	CiSubtype        string    `json:"ciSubtype"`
	IsSoxApplication bool      `json:"isSoxApplication"`
	AssignmentGroup  string    `json:"assignmentGroup"`
	AicRating        string    `json:"aicRating"`
	UpdatedBy        string    `json:"updatedBy"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toRegistrationRow(r *store.Registration) registrationRow {
	key := r.Key()
	row := registrationRow{
		keys:            keys{key.PartitionKey, key.RowKey},
		Organization:    r.Organization,
		ProjectID:       r.ProjectID,
		PipelineID:      r.PipelineID,
		PipelineType:    string(r.PipelineType),
		StageID:         r.StageID,
		RuleProfileName: r.RuleProfileName,
		ShouldBeScanned: r.ShouldBeScanned,
		UpdatedBy:       r.UpdatedBy,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.Prod != nil {
		row.IsProduction = true
		row.CiIdentifier = r.Prod.CiIdentifier
		row.CiName = r.Prod.CiName
		row.CiSubtype = r.Prod.CiSubtype
		row.IsSoxApplication = r.Prod.IsSoxApplication
		row.AssignmentGroup = r.Prod.AssignmentGroup
		row.AicRating = r.Prod.AicRating
	}
	return row
}

func (row registrationRow) registration() store.Registration {
	r := store.Registration{
		Organization:    row.Organization,
		ProjectID:       row.ProjectID,
		PipelineID:      row.PipelineID,
		PipelineType:    store.PipelineType(row.PipelineType),
		StageID:         row.StageID,
		RuleProfileName: row.RuleProfileName,
		ShouldBeScanned: row.ShouldBeScanned,
		UpdatedBy:       row.UpdatedBy,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.IsProduction {
		r.Prod = &store.ProdInfo{
			CiIdentifier:     row.CiIdentifier,
			CiName:           row.CiName,
			CiSubtype:        row.CiSubtype,
			IsSoxApplication: row.IsSoxApplication,
			AssignmentGroup:  row.AssignmentGroup,
			AicRating:        row.AicRating,
		}
	}
	return r
}

func (s *Store) GetRegistration(ctx context.Context, key store.Key) (*store.Registration, error) {
	var row registrationRow
	if err := get(ctx, s.registrations, "registration", key, &row); err != nil {
		return nil, err
	}
	r := row.registration()
	return &r, nil
}

func (s *Store) PutRegistration(ctx context.Context, registration *store.Registration) error {
	return upsert(ctx, s.registrations, toRegistrationRow(registration))
}

func (s *Store) DeleteRegistration(ctx context.Context, key store.Key) error {
	return remove(ctx, s.registrations, "registration", key)
}

func (s *Store) ListPipelineRegistrations(ctx context.Context, organization, projectID string, pipelineID int, pipelineType store.PipelineType) ([]store.Registration, error) {
	prefix := store.RegistrationKey(organization, projectID, pipelineID, pipelineType, "").RowKey
	return s.listRegistrations(ctx, organization, prefix)
}

func (s *Store) ListRegistrations(ctx context.Context, organization string) ([]store.Registration, error) {
	return s.listRegistrations(ctx, organization, "")
}

func (s *Store) listRegistrations(ctx context.Context, organization, prefix string) ([]store.Registration, error) {
	rows, err := list[registrationRow](ctx, s.registrations, store.PartitionKey(organization), prefix)
	if err != nil {
		return nil, err
	}
	out := make([]store.Registration, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.registration())
	}
	return out, nil
}

type reportRow struct {
	keys
	Organization          string    `json:"organization"`
	ProjectID             string    `json:"projectId"`
	ItemID                string    `json:"itemId"`
	ItemName              string    `json:"itemName"`
	Kind                  string    `json:"kind"`
	IsDeterminedCompliant bool      `json:"isDeterminedCompliant"`
	PipelineCompliant     bool      `json:"pipelineCompliant"`
	NonCompliantRules     string    `json:"nonCompliantRules"`
	NonCompliantStages    string    `json:"nonCompliantStages"`
	Excluded              bool      `json:"excluded"`
	ScanID                string    `json:"scanId"`
	ScannedAt             time.Time `json:"scannedAt"`
}

const listSeparator = ";"

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

func (s *Store) GetReport(ctx context.Context, key store.Key) (*store.ReportEntity, error) {
	var row reportRow
	if err := get(ctx, s.reports, "report", key, &row); err != nil {
		return nil, err
	}
	return &store.ReportEntity{
		Organization:          row.Organization,
		ProjectID:             row.ProjectID,
		ItemID:                row.ItemID,
		ItemName:              row.ItemName,
		Kind:                  row.Kind,
		IsDeterminedCompliant: row.IsDeterminedCompliant,
		PipelineCompliant:     row.PipelineCompliant,
		NonCompliantRules:     splitList(row.NonCompliantRules),
		NonCompliantStages:    splitList(row.NonCompliantStages),
		Excluded:              row.Excluded,
		ScanID:                row.ScanID,
		ScannedAt:             row.ScannedAt,
	}, nil
}

func (s *Store) PutReport(ctx context.Context, report *store.ReportEntity) error {
	key := report.Key()
	return upsert(ctx, s.reports, reportRow{
		keys:                  keys{key.PartitionKey, key.RowKey},
		Organization:          report.Organization,
		ProjectID:             report.ProjectID,
		ItemID:                report.ItemID,
		ItemName:              report.ItemName,
		Kind:                  report.Kind,
		IsDeterminedCompliant: report.IsDeterminedCompliant,
		PipelineCompliant:     report.PipelineCompliant,
		NonCompliantRules:     strings.Join(report.NonCompliantRules, listSeparator),
		NonCompliantStages:    strings.Join(report.NonCompliantStages, listSeparator),
		Excluded:              report.Excluded,
		ScanID:                report.ScanID,
		ScannedAt:             report.ScannedAt,
	})
}
