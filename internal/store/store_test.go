package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/pkg/shared/errors"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  Key
		want Key
	}{
		{
			name: "deviation is case insensitive",
			got:  DeviationKey("RaboWeb", "P1", "NobodyCanDeleteBuilds", "12", "CI123", ""),
			want: Key{PartitionKey: "raboweb", RowKey: "p1|nobodycandeletebuilds|12|ci123|"},
		},
		{
			name: "forbidden characters are replaced",
			got:  DeviationKey("raboweb", "p1", "rule", "a/b#c", "ci|x", "f?"),
			want: Key{PartitionKey: "raboweb", RowKey: "p1|rule|a_b_c|ci_x|f_"},
		},
		{
			name: "exclusion",
			got:  ExclusionKey("raboweb", "p1", 12, PipelineTypeRelease),
			want: Key{PartitionKey: "raboweb", RowKey: "p1|12|release"},
		},
		{
			name: "stage registration",
			got:  RegistrationKey("raboweb", "p1", 12, PipelineTypeBuild, "Prod"),
			want: Key{PartitionKey: "raboweb", RowKey: "p1|12|build|prod"},
		},
		{
			name: "pipeline registration",
			got:  RegistrationKey("raboweb", "p1", 12, PipelineTypeBuild, ""),
			want: Key{PartitionKey: "raboweb", RowKey: "p1|12|build|"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestMemoryRegistrations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	regs := []Registration{
		{Organization: "raboweb", ProjectID: "p1", PipelineID: 1, PipelineType: PipelineTypeBuild},
		{Organization: "raboweb", ProjectID: "p1", PipelineID: 12, PipelineType: PipelineTypeBuild, StageID: "prod", Prod: &ProdInfo{CiIdentifier: "CI1"}},
		{Organization: "raboweb", ProjectID: "p1", PipelineID: 12, PipelineType: PipelineTypeBuild},
		{Organization: "other", ProjectID: "p1", PipelineID: 12, PipelineType: PipelineTypeBuild},
	}
	for i := range regs {
		require.NoError(t, m.PutRegistration(ctx, &regs[i]))
	}

	got, err := m.ListPipelineRegistrations(ctx, "RABOWEB", "p1", 12, PipelineTypeBuild)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "", got[0].StageID)
	assert.Equal(t, "CI1", got[1].CiIdentifier())

	got[1].Prod.CiIdentifier = "changed"
	stored, err := m.GetRegistration(ctx, regs[1].Key())
	require.NoError(t, err)
	assert.Equal(t, "CI1", stored.CiIdentifier())

	all, err := m.ListRegistrations(ctx, "raboweb")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, m.DeleteRegistration(ctx, regs[0].Key()))
	_, err = m.GetRegistration(ctx, regs[0].Key())
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(m.DeleteRegistration(ctx, regs[0].Key())))
}

func TestMemoryDeviations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := &DeviationEntity{Organization: "raboweb", ProjectID: "p1", RuleName: "rule", ItemID: "1", CiIdentifier: "CI1"}
	require.NoError(t, m.PutDeviation(ctx, d))

	got, err := m.GetDeviation(ctx, DeviationKey("RABOWEB", "P1", "RULE", "1", "ci1", ""))
	require.NoError(t, err)
	assert.Equal(t, "CI1", got.CiIdentifier)

	list, err := m.ListDeviations(ctx, "raboweb", "p1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.DeleteDeviation(ctx, d.Key()))
	_, err = m.GetDeviation(ctx, d.Key())
	assert.True(t, errors.IsNotFound(err))
}

func TestExclusionValidity(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := ExclusionEntity{Approver: "a@rabobank.nl", ExpiresAt: now.Add(time.Hour)}
	assert.True(t, e.IsValid(now))
	assert.False(t, e.IsValid(now.Add(2*time.Hour)))

	e.Approver = ""
	assert.False(t, e.IsValid(now))
}

func TestReportStageCompliant(t *testing.T) {
	r := ReportEntity{IsDeterminedCompliant: false, PipelineCompliant: true, NonCompliantStages: []string{"test"}}
	assert.False(t, r.StageCompliant("TEST"))
	assert.True(t, r.StageCompliant("prod"))
	assert.False(t, r.StageCompliant(""))

	r.PipelineCompliant = false
	assert.False(t, r.StageCompliant("prod"))
}

func TestMemoryPublish(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Publish(context.Background(), QueueAuditReleaseDeployment, map[string]string{"a": "b"}))
	msgs := m.Messages(QueueAuditReleaseDeployment)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"a":"b"}`, string(msgs[0]))
	assert.Empty(t, m.Messages(QueueDeviationReportLog))
}

func TestParsePipelineType(t *testing.T) {
	assert.Equal(t, PipelineTypeRelease, ParsePipelineType("Release"))
	assert.Equal(t, PipelineTypeBuild, ParsePipelineType("yaml"))
	assert.Equal(t, PipelineTypeBuild, ParsePipelineType(""))
}
