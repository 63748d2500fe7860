package release

import "strings"

// latestName is the release name treated as the unnamed default: it
// contributes no component to the domain prefix.
const latestName = "latest"

// DomainPrefix derives the routing hostname label for a release. Non-empty
// components are joined in declaration order; a "latest" release name is
// elided. The result is deterministic for identical input; uniqueness among
// live releases is enforced by soft-deleting superseded releases, not here.
func DomainPrefix(projectName, channel, orgName, releaseName, serviceName string) string {
	if strings.EqualFold(releaseName, latestName) {
		releaseName = ""
	}
	parts := make([]string, 0, 5)
	for _, part := range []string{projectName, channel, orgName, releaseName, serviceName} {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "-")
}

// VolumeName derives the deterministic store-level volume source name so
// retried deploys upsert instead of duplicating.
func VolumeName(domainPrefix, src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return domainPrefix
	}
	return domainPrefix + "-" + src
}
