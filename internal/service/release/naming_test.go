package release

import "testing"

func TestDomainPrefix(t *testing.T) {
	cases := []struct {
		name        string
		project     string
		channel     string
		org         string
		release     string
		serviceName string
		want        string
	}{
		{"latest elided", "acme", "dev", "initech", "latest", "", "acme-dev-initech"},
		{"latest elided case insensitive", "acme", "dev", "initech", "Latest", "", "acme-dev-initech"},
		{"named release kept", "acme", "preview", "initech", "pr-42", "", "acme-preview-initech-pr-42"},
		{"service name appended", "acme", "dev", "initech", "latest", "api", "acme-dev-initech-api"},
		{"empty org skipped", "acme", "dev", "", "latest", "", "acme-dev"},
		{"all parts", "acme", "preview", "initech", "pr-42", "worker", "acme-preview-initech-pr-42-worker"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DomainPrefix(tc.project, tc.channel, tc.org, tc.release, tc.serviceName)
			if got != tc.want {
				t.Errorf("DomainPrefix = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDomainPrefixDeterministic(t *testing.T) {
	first := DomainPrefix("acme", "dev", "initech", "latest", "api")
	for i := 0; i < 5; i++ {
		if got := DomainPrefix("acme", "dev", "initech", "latest", "api"); got != first {
			t.Fatalf("prefix changed between calls: %q vs %q", got, first)
		}
	}
}

func TestVolumeName(t *testing.T) {
	if got := VolumeName("acme-dev-initech", "data"); got != "acme-dev-initech-data" {
		t.Errorf("VolumeName = %q", got)
	}
}
