// Package linkedin holds the execution handlers for search and profile-fetch
// jobs and the boundary interfaces to the browser automation layer. The DOM
// scraping itself is injected behind the Scraper interface; this package only
// orchestrates sessions, persistence, and outcome classification.
package linkedin

import (
	"context"
	"fmt"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/session"
)

// LeadResult is one profile discovered by a search.
type LeadResult struct {
	ProfileURL string
	FullName   string
	Headline   string
	Location   string
}

// Scraper is the browser automation boundary. Implementations drive the
// session's automation handle; they do not own its lifecycle.
type Scraper interface {
	// Search runs the campaign's query and returns the discovered profiles.
	Search(ctx context.Context, driver session.Driver, query string) ([]LeadResult, error)
	// FetchProfile loads a single profile page and returns its extracted data
	// as a JSON document.
	FetchProfile(ctx context.Context, driver session.Driver, profileURL string) ([]byte, error)
}

// ChallengeError reports that the site raised a verification challenge
// (captcha, OTP, checkpoint) instead of serving the page. Handlers treat it as
// retryable but count it against the account's health.
type ChallengeError struct {
	Type string
	Err  error
}

func (e *ChallengeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("challenge %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("challenge %s", e.Type)
}

func (e *ChallengeError) Unwrap() error { return e.Err }
