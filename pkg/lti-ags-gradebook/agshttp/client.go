// Package agshttp is an LTI Assignment and Grade Services client
// authenticated with OAuth2 client credentials.
package agshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/mind-engage/mindengage-peer/pkg/lti-ags-gradebook/gradebook"
)

const (
	lineItemType = "application/vnd.ims.lis.v2.lineitem+json"
	scoreType    = "application/vnd.ims.lis.v1.score+json"
)

type Client struct {
	http *http.Client
}

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

func New(cfg Config) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	h := cc.Client(context.Background())
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	return &Client{http: h}
}

type lineItemJSON struct {
	ID           string  `json:"id,omitempty"`
	Label        string  `json:"label"`
	ScoreMaximum float64 `json:"scoreMaximum"`
	ResourceID   string  `json:"resourceId,omitempty"`
}

func (it lineItemJSON) toLineItem() gradebook.LineItem {
	return gradebook.LineItem{ID: it.ID, Label: it.Label, ScoreMaximum: it.ScoreMaximum, ResourceID: it.ResourceID}
}

func (c *Client) ListLineItems(ctx context.Context, lineItemsURL string, q map[string]string) ([]gradebook.LineItem, error) {
	u, err := url.Parse(lineItemsURL)
	if err != nil {
		return nil, err
	}
	p := u.Query()
	for k, v := range q {
		p.Set(k, v)
	}
	u.RawQuery = p.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", lineItemType)

	var items []lineItemJSON
	if err := c.do(req, "list line items", &items); err != nil {
		return nil, err
	}
	out := make([]gradebook.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.toLineItem())
	}
	return out, nil
}

func (c *Client) CreateLineItem(ctx context.Context, lineItemsURL string, in gradebook.CreateLineItemReq) (gradebook.LineItem, error) {
	body, err := json.Marshal(lineItemJSON{Label: in.Label, ScoreMaximum: in.ScoreMaximum, ResourceID: in.ResourceID})
	if err != nil {
		return gradebook.LineItem{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineItemsURL, bytes.NewReader(body))
	if err != nil {
		return gradebook.LineItem{}, err
	}
	req.Header.Set("Content-Type", lineItemType)
	req.Header.Set("Accept", lineItemType)

	var it lineItemJSON
	if err := c.do(req, "create line item", &it); err != nil {
		return gradebook.LineItem{}, err
	}
	return it.toLineItem(), nil
}

// PostScore posts to {lineItemURL}/scores. A nil ScoreGiven is omitted.
func (c *Client) PostScore(ctx context.Context, lineItemURL string, s gradebook.Score) error {
	body, err := json.Marshal(struct {
		UserID           string   `json:"userId"`
		ScoreGiven       *float64 `json:"scoreGiven,omitempty"`
		ScoreMaximum     float64  `json:"scoreMaximum"`
		ActivityProgress string   `json:"activityProgress"`
		GradingProgress  string   `json:"gradingProgress"`
		Timestamp        string   `json:"timestamp"`
	}{
		UserID: s.UserID, ScoreGiven: s.ScoreGiven, ScoreMaximum: s.ScoreMaximum,
		ActivityProgress: s.ActivityProgress, GradingProgress: s.GradingProgress,
		Timestamp: s.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if !strings.HasSuffix(lineItemURL, "/") {
		lineItemURL += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineItemURL+"scores", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", scoreType)
	return c.do(req, "post score", nil)
}

func (c *Client) do(req *http.Request, what string, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %s", what, res.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

var _ gradebook.AGSClient = (*Client)(nil)
