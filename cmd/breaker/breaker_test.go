package breaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBreakerArgs(t *testing.T) {
	tests := []struct {
		name    string
		options RunOptionsBreaker
		wantErr string
	}{
		{"valid", RunOptionsBreaker{Organization: "raboweb", ProjectID: "p1", RunID: 1}, ""},
		{"valid release", RunOptionsBreaker{Organization: "raboweb", ProjectID: "p1", RunID: 1, PipelineType: "release"}, ""},
		{"missing organization", RunOptionsBreaker{ProjectID: "p1", RunID: 1}, "the 'organization' flag must be specified"},
		{"missing project", RunOptionsBreaker{Organization: "raboweb", RunID: 1}, "the 'project' flag must be specified"},
		{"missing run", RunOptionsBreaker{Organization: "raboweb", ProjectID: "p1"}, "the 'run' flag must be a positive integer"},
		{"bad type", RunOptionsBreaker{Organization: "raboweb", ProjectID: "p1", RunID: 1, PipelineType: "deploy"}, "the 'type' flag must be build or release"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBreakerArgs(&tt.options)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
