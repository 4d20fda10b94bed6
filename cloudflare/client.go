// Package cloudflare registers preview subdomains as DNS records.
package cloudflare

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// DNSAPI is the part of the Cloudflare API the client uses. *cf.API implements it.
type DNSAPI interface {
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
	ListDNSRecords(ctx context.Context, rc *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error)
}

// Client handles interactions with Cloudflare API
type Client struct {
	api        DNSAPI
	config     types.CloudflareConfig
	domainMap  map[string]types.ProjectDomain // Key: project id
	mu         sync.RWMutex
	serverAddr string // The server's public IP, used as the A record content
	logger     *zap.Logger
}

// NewClient creates a client. A disabled config yields a client that only
// tracks domains locally.
func NewClient(config types.CloudflareConfig, serverAddr string, logger *zap.Logger) (*Client, error) {
	c := &Client{
		config:     config,
		domainMap:  make(map[string]types.ProjectDomain),
		serverAddr: serverAddr,
		logger:     logger.Named("cloudflare"),
	}
	if !config.Enabled {
		return c, nil
	}

	api, err := cf.NewWithAPIToken(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudflare API client: %w", err)
	}
	c.api = api
	return c, nil
}

// NewClientWithAPI creates an enabled client on top of an existing API.
func NewClientWithAPI(api DNSAPI, config types.CloudflareConfig, serverAddr string, logger *zap.Logger) *Client {
	config.Enabled = true
	return &Client{
		api:        api,
		config:     config,
		domainMap:  make(map[string]types.ProjectDomain),
		serverAddr: serverAddr,
		logger:     logger.Named("cloudflare"),
	}
}

// Subdomain is the DNS label used for project.
func Subdomain(project *types.Project) string {
	if project.Subdomain != "" {
		return sanitizeForDNS(project.Subdomain)
	}
	return sanitizeForDNS(project.Name)
}

// CreateDomain creates a subdomain for a project. A record that already
// exists under the same name is adopted instead of duplicated.
func (c *Client) CreateDomain(ctx context.Context, project *types.Project) (*types.ProjectDomain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subdomain := Subdomain(project)
	fullDomain := fmt.Sprintf("%s.%s", subdomain, c.config.BaseDomain)
	log := c.logger.With(zap.String("project_id", project.ID), zap.String("domain", fullDomain))

	if !c.config.Enabled {
		log.Info("integration disabled, tracking domain locally")
		domain := types.ProjectDomain{ProjectID: project.ID, Domain: fullDomain}
		c.domainMap[project.ID] = domain
		return &domain, nil
	}

	zone := cf.ZoneIdentifier(c.config.ZoneID)
	existing, _, err := c.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{Type: "A", Name: fullDomain})
	if err != nil {
		return nil, fmt.Errorf("failed to list DNS records: %w", err)
	}

	var record cf.DNSRecord
	if len(existing) > 0 {
		record = existing[0]
		log.Info("DNS record already exists", zap.String("record_id", record.ID))
	} else {
		proxied := true
		record, err = c.api.CreateDNSRecord(ctx, zone, cf.CreateDNSRecordParams{
			Type:    "A",
			Name:    subdomain,
			Content: c.serverAddr,
			TTL:     120,
			Proxied: &proxied,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DNS record: %w", err)
		}
		log.Info("created DNS record", zap.String("record_id", record.ID), zap.String("content", c.serverAddr))
	}

	domain := types.ProjectDomain{
		ProjectID: project.ID,
		Domain:    fullDomain,
		DNSRecord: types.CloudflareDNSRecord{
			RecordID: record.ID,
			Name:     fullDomain,
			Content:  c.serverAddr,
			Type:     "A",
			Proxied:  true,
		},
	}
	c.domainMap[project.ID] = domain
	return &domain, nil
}

// DeleteDomain removes the project's DNS record. Records created by an
// earlier process are found by name.
func (c *Client) DeleteDomain(ctx context.Context, project *types.Project) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain, known := c.domainMap[project.ID]
	if !c.config.Enabled {
		delete(c.domainMap, project.ID)
		return nil
	}

	zone := cf.ZoneIdentifier(c.config.ZoneID)
	recordID := domain.DNSRecord.RecordID
	if !known || recordID == "" {
		name := fmt.Sprintf("%s.%s", Subdomain(project), c.config.BaseDomain)
		records, _, err := c.api.ListDNSRecords(ctx, zone, cf.ListDNSRecordsParams{Type: "A", Name: name})
		if err != nil {
			return fmt.Errorf("failed to list DNS records: %w", err)
		}
		if len(records) == 0 {
			delete(c.domainMap, project.ID)
			return nil
		}
		recordID = records[0].ID
	}

	if err := c.api.DeleteDNSRecord(ctx, zone, recordID); err != nil {
		return fmt.Errorf("failed to delete DNS record: %w", err)
	}
	delete(c.domainMap, project.ID)
	c.logger.Info("deleted DNS record", zap.String("project_id", project.ID), zap.String("record_id", recordID))
	return nil
}

// GetDomain retrieves domain information for a project
func (c *Client) GetDomain(projectID string) (types.ProjectDomain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	domain, exists := c.domainMap[projectID]
	return domain, exists
}

// sanitizeForDNS lowercases name and replaces anything that is not a valid
// DNS label character with a hyphen.
func sanitizeForDNS(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + 32
		}
		return '-'
	}, name)

	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	sanitized = strings.Trim(sanitized, "-")
	if len(sanitized) > 63 {
		sanitized = strings.TrimRight(sanitized[:63], "-")
	}
	if sanitized == "" {
		sanitized = "app"
	}
	return sanitized
}
