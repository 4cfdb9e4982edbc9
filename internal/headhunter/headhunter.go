// Package headhunter fetches vacancies from the HeadHunter API to use as job
// descriptions for guidance retrieval.
package headhunter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.hh.ru"
	userAgent = "spigell/resumekit-rag (spigelly@gmail.com)"
)

var (
	vacancyIDPattern  = regexp.MustCompile(`^\d+$`)
	vacancyURLPattern = regexp.MustCompile(`/vacancy/(\d+)`)
)

type Client struct {
	// token is optional: public vacancies are readable anonymously.
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// GetVacancy fetches a single vacancy by id.
func (c *Client) GetVacancy(ctx context.Context, id string) (*Vacancy, error) {
	var vacancy Vacancy
	if err := c.getJSON(ctx, fmt.Sprintf("%s/vacancies/%s", c.APIURL, url.PathEscape(id)), nil, &vacancy); err != nil {
		return nil, fmt.Errorf("getting vacancy %s: %w", id, err)
	}

	return &vacancy, nil
}

// ParseVacancyID accepts a bare id or a vacancy page URL.
func ParseVacancyID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if vacancyIDPattern.MatchString(s) {
		return s, nil
	}
	if m := vacancyURLPattern.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}

	return "", fmt.Errorf("not a vacancy id or url: %q", s)
}
