package types

// CloudflareConfig holds configuration for Cloudflare integration
type CloudflareConfig struct {
	Enabled      bool   `yaml:"enabled"`       // Whether Cloudflare integration is enabled
	APIToken     string `yaml:"api_token"`     // Cloudflare API token for authentication
	ZoneID       string `yaml:"zone_id"`       // Cloudflare Zone ID
	BaseDomain   string `yaml:"base_domain"`   // Base domain for preview subdomains, e.g. "r3kt.dev"
	AutoGenerate bool   `yaml:"auto_generate"` // Whether to register a subdomain after each deploy
}

// CloudflareDNSRecord represents a DNS record created for a project
type CloudflareDNSRecord struct {
	RecordID string `json:"record_id"`
	Name     string `json:"name"`    // The full domain name, e.g. "coffee-blog.r3kt.dev"
	Content  string `json:"content"` // IP address or CNAME value
	Type     string `json:"type"`    // "A" or "CNAME"
	Proxied  bool   `json:"proxied"`
}

// ProjectDomain links a project to its registered preview domain
type ProjectDomain struct {
	ProjectID string              `json:"project_id"`
	Domain    string              `json:"domain"`
	DNSRecord CloudflareDNSRecord `json:"dns_record,omitempty"`
}
