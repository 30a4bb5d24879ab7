package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/session"
)

// Stub implementations of the automation boundary for development and smoke
// testing. They log in instantly and fabricate deterministic results; real
// browser automation is wired in by the deployment.

type StubDriver struct{}

func (d *StubDriver) Close(_ context.Context) error { return nil }

type StubDriverFactory struct{}

func (f *StubDriverFactory) New(_ context.Context, _ *session.ProxyConfig) (session.Driver, error) {
	return &StubDriver{}, nil
}

type StubAuthenticator struct{}

func (a *StubAuthenticator) Authenticate(_ context.Context, _ session.Driver, creds session.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("missing credentials")
	}
	return nil
}

// StubScraper returns a fixed number of synthetic leads per search and a
// minimal profile document per fetch.
type StubScraper struct {
	ResultsPerSearch int
}

func (s *StubScraper) Search(_ context.Context, _ session.Driver, query string) ([]LeadResult, error) {
	n := s.ResultsPerSearch
	if n <= 0 {
		n = 10
	}
	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")
	results := make([]LeadResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, LeadResult{
			ProfileURL: fmt.Sprintf("https://linkedin.com/in/%s-%d", slug, i),
			FullName:   fmt.Sprintf("Synthetic Lead %d", i),
			Headline:   query,
			Location:   "Unknown",
		})
	}
	return results, nil
}

func (s *StubScraper) FetchProfile(_ context.Context, _ session.Driver, profileURL string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"profile_url": profileURL,
		"source":      "stub",
	})
}
