package azdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrganizationFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"dev.azure.com", "https://dev.azure.com/raboweb-test", "raboweb-test"},
		{"vsrm", "https://vsrm.dev.azure.com/raboweb", "raboweb"},
		{"trailing path", "https://dev.azure.com/raboweb/project/_apis/build", "raboweb"},
		{"vssps", "https://vssps.dev.azure.com/raboweb/", "raboweb"},
		{"legacy host", "https://raboweb.visualstudio.com/", "raboweb"},
		{"legacy release host", "https://raboweb.vsrm.visualstudio.com", "raboweb"},
		{"no organization", "https://dev.azure.com", ""},
		{"malformed", "://not a url", ""},
		{"no scheme", "dev.azure.com/raboweb", ""},
		{"other host", "https://example.com/raboweb", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OrganizationFromURL(tt.url))
		})
	}
}
