package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cf "github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// fakeDNS keeps records in memory keyed by full name.
type fakeDNS struct {
	records   map[string]cf.DNSRecord
	createErr error
	creates   int
	deletes   []string
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{records: make(map[string]cf.DNSRecord)}
}

func (f *fakeDNS) CreateDNSRecord(_ context.Context, _ *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error) {
	if f.createErr != nil {
		return cf.DNSRecord{}, f.createErr
	}
	f.creates++
	rec := cf.DNSRecord{ID: fmt.Sprintf("rec-%d", f.creates), Type: params.Type, Name: params.Name + ".example.com", Content: params.Content}
	f.records[rec.Name] = rec
	return rec, nil
}

func (f *fakeDNS) DeleteDNSRecord(_ context.Context, _ *cf.ResourceContainer, recordID string) error {
	f.deletes = append(f.deletes, recordID)
	for name, rec := range f.records {
		if rec.ID == recordID {
			delete(f.records, name)
		}
	}
	return nil
}

func (f *fakeDNS) ListDNSRecords(_ context.Context, _ *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error) {
	if rec, ok := f.records[params.Name]; ok {
		return []cf.DNSRecord{rec}, &cf.ResultInfo{}, nil
	}
	return nil, &cf.ResultInfo{}, nil
}

var testConfig = types.CloudflareConfig{ZoneID: "zone", BaseDomain: "example.com", AutoGenerate: true}

func TestNewClientDisabled(t *testing.T) {
	client, err := NewClient(types.CloudflareConfig{BaseDomain: "example.com"}, "203.0.113.7", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, client.api)

	d, err := client.CreateDomain(context.Background(), &types.Project{ID: "p1", Name: "Coffee Blog"})
	require.NoError(t, err)
	assert.Equal(t, "coffee-blog.example.com", d.Domain)
	assert.Empty(t, d.DNSRecord.RecordID)
}

func TestCreateDomain(t *testing.T) {
	dns := newFakeDNS()
	client := NewClientWithAPI(dns, testConfig, "203.0.113.7", zaptest.NewLogger(t))
	project := &types.Project{ID: "p1", Name: "ignored", Subdomain: "Coffee_Blog"}

	d, err := client.CreateDomain(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "coffee-blog.example.com", d.Domain)
	assert.Equal(t, "rec-1", d.DNSRecord.RecordID)
	assert.Equal(t, "203.0.113.7", d.DNSRecord.Content)

	got, ok := client.GetDomain("p1")
	require.True(t, ok)
	assert.Equal(t, *d, got)

	// Creating again adopts the existing record.
	again, err := client.CreateDomain(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", again.DNSRecord.RecordID)
	assert.Equal(t, 1, dns.creates)
}

func TestCreateDomainError(t *testing.T) {
	dns := newFakeDNS()
	dns.createErr = errors.New("quota exceeded")
	client := NewClientWithAPI(dns, testConfig, "203.0.113.7", zaptest.NewLogger(t))

	_, err := client.CreateDomain(context.Background(), &types.Project{ID: "p1", Name: "x"})
	assert.ErrorContains(t, err, "quota exceeded")
	_, ok := client.GetDomain("p1")
	assert.False(t, ok)
}

func TestDeleteDomainFindsRecordByName(t *testing.T) {
	dns := newFakeDNS()
	project := &types.Project{ID: "p1", Name: "Coffee Blog"}

	// Created by an earlier process; this client has no memory of it.
	first := NewClientWithAPI(dns, testConfig, "203.0.113.7", zaptest.NewLogger(t))
	_, err := first.CreateDomain(context.Background(), project)
	require.NoError(t, err)

	second := NewClientWithAPI(dns, testConfig, "203.0.113.7", zaptest.NewLogger(t))
	require.NoError(t, second.DeleteDomain(context.Background(), project))
	assert.Equal(t, []string{"rec-1"}, dns.deletes)
	assert.Empty(t, dns.records)

	// Nothing left to delete is not an error.
	require.NoError(t, second.DeleteDomain(context.Background(), project))
	assert.Len(t, dns.deletes, 1)
}

func TestSanitizeForDNS(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"simple-test", "simple-test"},
		{"test_project", "test-project"},
		{"test.project", "test-project"},
		{"test project", "test-project"},
		{"TEST_PROJECT", "test-project"},
		{"-test-", "test"},
		{" test ", "test"},
		{"test__project", "test-project"},
		{"", "app"},
		{"___", "app"},
		{"café", "caf"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeForDNS(tt.input))
		})
	}

	long := sanitizeForDNS(fmt.Sprintf("%070d", 0))
	assert.Len(t, long, 63)
}
