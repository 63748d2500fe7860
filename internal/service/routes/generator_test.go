package routes

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

func devOptions() Options {
	return Options{
		BaseDomain:       "apps.example.dev",
		Development:      true,
		CertResolver:     "letsencrypt",
		ScaleToZeroAfter: 5 * time.Minute,
	}
}

func marshal(t *testing.T, doc Document) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return data
}

func TestGenerateIsByteStable(t *testing.T) {
	releases := []domain.Release{
		{DomainPrefix: "shop-dev-acme", Port: "8080"},
		{DomainPrefix: "db-dev-acme", Port: "5432", Protocol: ProtocolTCP},
		{DomainPrefix: "blog-preview-acme", Port: ""},
	}

	first := marshal(t, Generate(releases, devOptions()))
	second := marshal(t, Generate(releases, devOptions()))
	if !bytes.Equal(first, second) {
		t.Fatalf("identical input produced different documents")
	}
}

func TestGenerateAddsExactlyOneRouterServicePair(t *testing.T) {
	base := []domain.Release{{DomainPrefix: "shop-dev-acme", Port: "8080"}}
	withExtra := append([]domain.Release{}, base...)
	withExtra = append(withExtra, domain.Release{DomainPrefix: "api-dev-acme", Port: "9000"})

	before := Generate(base, devOptions())
	after := Generate(withExtra, devOptions())

	if len(after.HTTP.Routers) != len(before.HTTP.Routers)+1 {
		t.Fatalf("router count: %d -> %d, want +1", len(before.HTTP.Routers), len(after.HTTP.Routers))
	}
	if len(after.HTTP.Services) != len(before.HTTP.Services)+1 {
		t.Fatalf("service count: %d -> %d, want +1", len(before.HTTP.Services), len(after.HTTP.Services))
	}
	if _, ok := after.HTTP.Routers["api-dev-acme"]; !ok {
		t.Fatalf("missing router for added release")
	}

	// Removing it restores the original document byte for byte.
	if !bytes.Equal(marshal(t, Generate(base, devOptions())), marshal(t, before)) {
		t.Fatalf("removing the release did not restore the document")
	}
}

func TestGenerateStaticInfraAlwaysPresent(t *testing.T) {
	doc := Generate(nil, devOptions())
	for _, name := range []string{"whoami", "echo", "manager", "dashboard"} {
		if _, ok := doc.HTTP.Routers[name]; !ok {
			t.Fatalf("missing static router %q", name)
		}
	}
	if _, ok := doc.HTTP.Middlewares["rate-limit"]; !ok {
		t.Fatalf("missing shared rate limit middleware")
	}
}

func TestGenerateHTTPRelease(t *testing.T) {
	doc := Generate([]domain.Release{{DomainPrefix: "shop-dev-acme", Port: "8080"}}, devOptions())

	router, ok := doc.HTTP.Routers["shop-dev-acme"]
	if !ok {
		t.Fatalf("missing release router")
	}
	if router.Rule != "Host(`shop-dev-acme.apps.example.dev`)" {
		t.Fatalf("rule = %q", router.Rule)
	}
	if len(router.Middlewares) != 2 || router.Middlewares[0] != "shop-dev-acme-scale-to-zero" || router.Middlewares[1] != "rate-limit" {
		t.Fatalf("middlewares = %v", router.Middlewares)
	}
	if router.TLS != nil {
		t.Fatalf("development routers must not carry TLS config")
	}

	svc := doc.HTTP.Services["shop-dev-acme"]
	if got := svc.LoadBalancer.Servers[0].URL; got != "http://shop-dev-acme:8080" {
		t.Fatalf("service url = %q", got)
	}

	mw, ok := doc.HTTP.Middlewares["shop-dev-acme-scale-to-zero"]
	if !ok || mw.Plugin == nil {
		t.Fatalf("missing scale-to-zero middleware")
	}
}

func TestGeneratePortFallback(t *testing.T) {
	for _, port := range []string{"", "abc", "-1", "0"} {
		doc := Generate([]domain.Release{{DomainPrefix: "x-dev-acme", Port: port}}, devOptions())
		got := doc.HTTP.Services["x-dev-acme"].LoadBalancer.Servers[0].URL
		if got != "http://x-dev-acme:3000" {
			t.Fatalf("port %q: url = %q, want default 3000", port, got)
		}
	}
}

func TestGenerateTCPRelease(t *testing.T) {
	doc := Generate([]domain.Release{{DomainPrefix: "db-dev-acme", Port: "5432", Protocol: ProtocolTCP}}, devOptions())
	if doc.TCP == nil {
		t.Fatalf("expected tcp section")
	}
	router := doc.TCP.Routers["db-dev-acme"]
	if router.Rule != "HostSNI(`db-dev-acme.apps.example.dev`)" {
		t.Fatalf("tcp rule = %q", router.Rule)
	}
	svc := doc.TCP.Services["db-dev-acme"]
	if got := svc.LoadBalancer.Servers[0].Address; got != "db-dev-acme:5432" {
		t.Fatalf("tcp address = %q", got)
	}
	if _, ok := doc.HTTP.Routers["db-dev-acme"]; ok {
		t.Fatalf("tcp release must not get an HTTP router")
	}
}

func TestGenerateProductionTLS(t *testing.T) {
	opts := devOptions()
	opts.Development = false
	doc := Generate([]domain.Release{
		{DomainPrefix: "shop-dev-acme", Port: "8080"},
		{DomainPrefix: "db-dev-acme", Port: "5432", Protocol: ProtocolTCP},
	}, opts)

	for name, router := range doc.HTTP.Routers {
		if router.TLS == nil {
			t.Fatalf("router %q missing TLS in production", name)
		}
		if router.TLS.CertResolver != "letsencrypt" {
			t.Fatalf("router %q cert resolver = %q", name, router.TLS.CertResolver)
		}
		domains := router.TLS.Domains
		if len(domains) != 1 || domains[0].Main != "apps.example.dev" {
			t.Fatalf("router %q domains = %v", name, domains)
		}
		if len(domains[0].SANs) != 1 || domains[0].SANs[0] != "*.apps.example.dev" {
			t.Fatalf("router %q SANs = %v", name, domains[0].SANs)
		}
	}
	if doc.TCP.Routers["db-dev-acme"].TLS == nil {
		t.Fatalf("tcp router missing TLS in production")
	}
}

func TestGenerateSkipsBlankPrefixes(t *testing.T) {
	doc := Generate([]domain.Release{{DomainPrefix: "   ", Port: "8080"}}, devOptions())
	for name := range doc.HTTP.Routers {
		if strings.TrimSpace(name) == "" {
			t.Fatalf("blank router name generated")
		}
	}
}
