package routes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// DefaultHTTPPort is assumed when a release declares no parseable port.
const DefaultHTTPPort = 3000

// ProtocolTCP marks releases exposed as raw TCP instead of HTTP.
const ProtocolTCP = "tcp"

const rateLimitMiddleware = "rate-limit"

// Options parameterize route generation. Environment and domain are the only
// inputs besides the release set, keeping Generate a pure function.
type Options struct {
	BaseDomain       string
	Development      bool
	CertResolver     string
	ScaleToZeroAfter time.Duration
}

// Generate maps the set of live releases to the routing document. It is
// deterministic and side-effect free: identical input yields byte-identical
// JSON output.
func Generate(releases []domain.Release, opts Options) Document {
	doc := Document{
		HTTP: HTTPConfig{
			Routers:     map[string]Router{},
			Services:    map[string]Service{},
			Middlewares: map[string]Middleware{},
		},
	}
	doc.HTTP.Middlewares[rateLimitMiddleware] = Middleware{
		RateLimit: &RateLimit{Average: 100, Burst: 50},
	}
	addInfraRoutes(&doc, opts)

	for _, release := range releases {
		prefix := release.DomainPrefix
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		if release.Protocol == ProtocolTCP {
			addTCPRelease(&doc, release, opts)
			continue
		}
		addHTTPRelease(&doc, release, opts)
	}

	if !opts.Development {
		for name, router := range doc.HTTP.Routers {
			router.TLS = routerTLS(opts)
			doc.HTTP.Routers[name] = router
		}
		if doc.TCP != nil {
			for name, router := range doc.TCP.Routers {
				router.TLS = routerTLS(opts)
				doc.TCP.Routers[name] = router
			}
		}
	}
	return doc
}

func addHTTPRelease(doc *Document, release domain.Release, opts Options) {
	prefix := release.DomainPrefix
	port := parsePort(release.Port)

	doc.HTTP.Services[prefix] = Service{
		LoadBalancer: LoadBalancer{
			Servers: []Server{{URL: fmt.Sprintf("http://%s:%d", prefix, port)}},
		},
	}

	scaler := prefix + "-scale-to-zero"
	doc.HTTP.Middlewares[scaler] = Middleware{
		Plugin: map[string]any{
			"sablier": map[string]any{
				"names":           prefix,
				"sessionDuration": formatDuration(opts.ScaleToZeroAfter),
				"dynamic": map[string]any{
					"displayName": prefix,
				},
			},
		},
	}

	doc.HTTP.Routers[prefix] = Router{
		Rule:        fmt.Sprintf("Host(`%s.%s`)", prefix, opts.BaseDomain),
		Service:     prefix,
		EntryPoints: []string{"websecure"},
		Middlewares: []string{scaler, rateLimitMiddleware},
	}
}

func addTCPRelease(doc *Document, release domain.Release, opts Options) {
	if doc.TCP == nil {
		doc.TCP = &TCPConfig{
			Routers:  map[string]TCPRouter{},
			Services: map[string]TCPService{},
		}
	}
	prefix := release.DomainPrefix
	address := prefix + ":" + strings.TrimSpace(release.Port)

	doc.TCP.Services[prefix] = TCPService{
		LoadBalancer: TCPLoadBalancer{Servers: []TCPServer{{Address: address}}},
	}
	doc.TCP.Routers[prefix] = TCPRouter{
		Rule:        fmt.Sprintf("HostSNI(`%s.%s`)", prefix, opts.BaseDomain),
		Service:     prefix,
		EntryPoints: []string{"tcp"},
	}
}

// addInfraRoutes installs the static infrastructure surface that exists
// regardless of the release set.
func addInfraRoutes(doc *Document, opts Options) {
	static := map[string]string{
		"whoami":  "http://whoami:80",
		"echo":    "http://echo:8080",
		"manager": "http://manager:4500",
	}
	for name, url := range static {
		doc.HTTP.Services[name] = Service{
			LoadBalancer: LoadBalancer{Servers: []Server{{URL: url}}},
		}
		doc.HTTP.Routers[name] = Router{
			Rule:        fmt.Sprintf("Host(`%s.%s`)", name, opts.BaseDomain),
			Service:     name,
			EntryPoints: []string{"websecure"},
		}
	}
	doc.HTTP.Routers["dashboard"] = Router{
		Rule:        fmt.Sprintf("Host(`dashboard.%s`)", opts.BaseDomain),
		Service:     "api@internal",
		EntryPoints: []string{"websecure"},
	}
}

func routerTLS(opts Options) *RouterTLS {
	return &RouterTLS{
		CertResolver: opts.CertResolver,
		Domains: []TLSDomain{{
			Main: opts.BaseDomain,
			SANs: []string{"*." + opts.BaseDomain},
		}},
	}
}

// parsePort never fails: unparseable or missing ports fall back to the
// default HTTP port.
func parsePort(raw string) int {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 {
		return DefaultHTTPPort
	}
	return port
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		d = 5 * time.Minute
	}
	return d.String()
}
