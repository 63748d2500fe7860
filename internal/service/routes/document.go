package routes

// Document is the declarative routing configuration polled by the edge
// proxy. Maps keep JSON output byte-stable for identical input.
type Document struct {
	HTTP HTTPConfig `json:"http"`
	TCP  *TCPConfig `json:"tcp,omitempty"`
}

// HTTPConfig holds HTTP routers, services and middlewares.
type HTTPConfig struct {
	Routers     map[string]Router     `json:"routers"`
	Services    map[string]Service    `json:"services"`
	Middlewares map[string]Middleware `json:"middlewares"`
}

// Router matches requests and forwards them to a service.
type Router struct {
	Rule        string     `json:"rule"`
	Service     string     `json:"service"`
	EntryPoints []string   `json:"entryPoints,omitempty"`
	Middlewares []string   `json:"middlewares,omitempty"`
	TLS         *RouterTLS `json:"tls,omitempty"`
}

// RouterTLS references the certificate resolver and requested domains.
type RouterTLS struct {
	CertResolver string      `json:"certResolver,omitempty"`
	Domains      []TLSDomain `json:"domains,omitempty"`
}

// TLSDomain requests a certificate for a main domain and its SANs.
type TLSDomain struct {
	Main string   `json:"main"`
	SANs []string `json:"sans,omitempty"`
}

// Service is an HTTP load-balanced backend.
type Service struct {
	LoadBalancer LoadBalancer `json:"loadBalancer"`
}

// LoadBalancer lists backend servers.
type LoadBalancer struct {
	Servers []Server `json:"servers"`
}

// Server is one HTTP backend address.
type Server struct {
	URL string `json:"url"`
}

// Middleware is either a plugin reference or a built-in rate limit.
type Middleware struct {
	Plugin    map[string]any `json:"plugin,omitempty"`
	RateLimit *RateLimit     `json:"rateLimit,omitempty"`
}

// RateLimit is the shared request throttle applied to workload routers.
type RateLimit struct {
	Average int `json:"average"`
	Burst   int `json:"burst"`
}

// TCPConfig holds SNI routers and TCP services.
type TCPConfig struct {
	Routers  map[string]TCPRouter  `json:"routers"`
	Services map[string]TCPService `json:"services"`
}

// TCPRouter matches on SNI hostname.
type TCPRouter struct {
	Rule        string     `json:"rule"`
	Service     string     `json:"service"`
	EntryPoints []string   `json:"entryPoints,omitempty"`
	TLS         *RouterTLS `json:"tls,omitempty"`
}

// TCPService is a raw TCP backend.
type TCPService struct {
	LoadBalancer TCPLoadBalancer `json:"loadBalancer"`
}

// TCPLoadBalancer lists TCP backend addresses.
type TCPLoadBalancer struct {
	Servers []TCPServer `json:"servers"`
}

// TCPServer is one TCP backend address.
type TCPServer struct {
	Address string `json:"address"`
}
