package azdo

import (
	"net/url"
	"strings"
)

// OrganizationFromURL extracts the organization name from an Azure DevOps
// collection URL such as https://dev.azure.com/org or
// https://vsrm.dev.azure.com/org. Legacy https://org.visualstudio.com URLs are
// supported as well. An empty string is returned for anything it cannot parse.
func OrganizationFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "dev.azure.com" || strings.HasSuffix(host, ".dev.azure.com"):
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		return segments[0]
	case strings.HasSuffix(host, ".visualstudio.com"):
		// org.vsrm.visualstudio.com style hosts
		return strings.Split(host, ".")[0]
	}
	return ""
}
