package vultr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3cpo-dev/kubeprovision/internal/node"
	prov "github.com/3cpo-dev/kubeprovision/internal/providers"
)

const (
	vultrAPI = "https://api.vultr.com/v2"
	perPage  = 500
)

// Provider talks to the Vultr v2 API. Vultr tags are plain strings; a tag
// "role=master" is read as key "role" with value "master", and a bare tag
// "k8s" as key "k8s" with an empty value.
type Provider struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

func New(cfg prov.Config) *Provider {
	return &Provider{
		Token:   cfg.Vultr.Token,
		BaseURL: vultrAPI,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Provider) Name() string { return "vultr" }

type vultrInstance struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	MainIP      string   `json:"main_ip"`
	Status      string   `json:"status"`
	PowerStatus string   `json:"power_status"`
	Tags        []string `json:"tags"`
}

type vultrListResp struct {
	Instances []vultrInstance `json:"instances"`
	Meta      struct {
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	} `json:"meta"`
}

type vultrBatchReq struct {
	InstanceIDs []string `json:"instance_ids"`
}

func (p *Provider) token() (string, error) {
	if p.Token == "" {
		return "", fmt.Errorf("vultr token missing; set vultr.token or VULTR_TOKEN")
	}
	return p.Token, nil
}

// ListInstances fetches one cursor page. When filter carries a value the tag
// query narrows the listing server side; the filter is re-applied locally
// because key-only filters cannot be expressed in the API.
func (p *Provider) ListInstances(ctx context.Context, filter node.TagFilter, token string) (prov.Page, error) {
	tok, err := p.token()
	if err != nil {
		return prov.Page{}, err
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	if token != "" {
		q.Set("cursor", token)
	}
	if filter.Value != nil {
		q.Set("tag", filter.Key+"="+*filter.Value)
	}
	var list vultrListResp
	if err := p.doJSON(ctx, tok, http.MethodGet, p.BaseURL+"/instances?"+q.Encode(), nil, &list); err != nil {
		return prov.Page{}, err
	}
	page := prov.Page{NextToken: list.Meta.Links.Next}
	for _, inst := range list.Instances {
		tags := parseTags(inst.Tags)
		if !filter.MatchesAny(tags) {
			continue
		}
		page.Instances = append(page.Instances, prov.Instance{
			ID:       inst.ID,
			PublicIP: publicIP(inst.MainIP),
			State:    state(inst),
			Tags:     tags,
		})
	}
	return page, nil
}

func (p *Provider) StartInstances(ctx context.Context, ids []node.ID) error {
	return p.batch(ctx, "/instances/start", ids)
}

func (p *Provider) StopInstances(ctx context.Context, ids []node.ID) error {
	return p.batch(ctx, "/instances/halt", ids)
}

func (p *Provider) batch(ctx context.Context, path string, ids []node.ID) error {
	tok, err := p.token()
	if err != nil {
		return err
	}
	req := vultrBatchReq{InstanceIDs: make([]string, len(ids))}
	for i, id := range ids {
		req.InstanceIDs[i] = string(id)
	}
	return p.doJSON(ctx, tok, http.MethodPost, p.BaseURL+path, req, nil)
}

func (p *Provider) doJSON(ctx context.Context, token, method, url string, body interface{}, out interface{}) error {
	var req *http.Request
	var err error
	if body != nil {
		buf, e := json.Marshal(body)
		if e != nil {
			return e
		}
		req, err = http.NewRequestWithContext(ctx, method, url, strings.NewReader(string(buf)))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vultr api status %d: %s", resp.StatusCode, string(errorBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseTags(raw []string) []node.Tag {
	tags := make([]node.Tag, 0, len(raw))
	for _, t := range raw {
		k, v, _ := strings.Cut(t, "=")
		tags = append(tags, node.Tag{Key: k, Value: v})
	}
	return tags
}

// publicIP drops the placeholder Vultr reports before an address is assigned.
func publicIP(ip string) string {
	if ip == "0.0.0.0" {
		return ""
	}
	return ip
}

func state(inst vultrInstance) string {
	if inst.Status == "pending" {
		return "pending"
	}
	return inst.PowerStatus
}
