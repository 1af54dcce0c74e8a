package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"FlowSentry/internal/model"
)

// The concrete providers speak the upstream HTTP contracts directly. Each
// returns its own tag/score contribution; the coordinator owns merging.

// AbuseIPDB reports an IP's abuse confidence. A confidence above 50
// contributes a high-reputation tag and 40 points.
type AbuseIPDB struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (p *AbuseIPDB) Name() string { return "abuseipdb" }

func (p *AbuseIPDB) Lookup(ctx context.Context, ip string) (model.ProviderResult, error) {
	url := fmt.Sprintf("%s/api/v2/check?ipAddress=%s&maxAgeInDays=90", p.BaseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.ProviderResult{}, err
	}
	req.Header.Set("Key", p.APIKey)
	req.Header.Set("Accept", "application/json")

	var body struct {
		Data struct {
			AbuseConfidenceScore int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	if body.Data.AbuseConfidenceScore > 50 {
		return model.ProviderResult{Tags: []string{"abuseipdb_high"}, Score: 40}, nil
	}
	return model.ProviderResult{}, nil
}

// OTX checks whether any threat pulses reference the IP.
type OTX struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (p *OTX) Name() string { return "otx" }

func (p *OTX) Lookup(ctx context.Context, ip string) (model.ProviderResult, error) {
	url := fmt.Sprintf("%s/api/v1/indicators/IPv4/%s/general", p.BaseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.ProviderResult{}, err
	}
	req.Header.Set("X-OTX-API-KEY", p.APIKey)

	var body struct {
		PulseInfo struct {
			Count int `json:"count"`
		} `json:"pulse_info"`
	}
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	if body.PulseInfo.Count > 0 {
		return model.ProviderResult{Tags: []string{"otx_malicious"}, Score: 30}, nil
	}
	return model.ProviderResult{}, nil
}

// MISP searches a shared-intel instance for attributes matching the IP.
type MISP struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (p *MISP) Name() string { return "misp" }

func (p *MISP) Lookup(ctx context.Context, ip string) (model.ProviderResult, error) {
	payload, _ := json.Marshal(map[string]string{
		"returnFormat": "json",
		"type":         "ip-dst",
		"value":        ip,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.BaseURL+"/attributes/restSearch", bytes.NewReader(payload))
	if err != nil {
		return model.ProviderResult{}, err
	}
	req.Header.Set("Authorization", p.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Response json.RawMessage `json:"response"`
	}
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	if len(body.Response) > 0 && string(body.Response) != "null" && string(body.Response) != "[]" {
		return model.ProviderResult{Tags: []string{"misp_malicious"}, Score: 30}, nil
	}
	return model.ProviderResult{}, nil
}

// GeoIP resolves an IP's location. It contributes no score; the location
// is attached verbatim to the merged result.
type GeoIP struct {
	BaseURL string
	Client  *http.Client
}

func (p *GeoIP) Name() string { return "geoip" }

func (p *GeoIP) Lookup(ctx context.Context, ip string) (model.ProviderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/json/"+ip, nil)
	if err != nil {
		return model.ProviderResult{}, err
	}

	var body struct {
		City    string  `json:"city"`
		Country string  `json:"country"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	return model.ProviderResult{
		Geo: &model.GeoInfo{City: body.City, Country: body.Country, Lat: body.Lat, Lon: body.Lon},
	}, nil
}

// Whois confirms a domain's registration data exists.
type Whois struct {
	BaseURL string
	Client  *http.Client
}

func (p *Whois) Name() string { return "whois" }

func (p *Whois) Lookup(ctx context.Context, domain string) (model.ProviderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/?q="+domain, nil)
	if err != nil {
		return model.ProviderResult{}, err
	}
	var body map[string]json.RawMessage
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	if len(body) > 0 {
		return model.ProviderResult{Tags: []string{"whois_found"}, Score: 10}, nil
	}
	return model.ProviderResult{}, nil
}

// VirusTotal checks a domain against the scan aggregator.
type VirusTotal struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (p *VirusTotal) Name() string { return "virustotal" }

func (p *VirusTotal) Lookup(ctx context.Context, domain string) (model.ProviderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/v3/domains/"+domain, nil)
	if err != nil {
		return model.ProviderResult{}, err
	}
	req.Header.Set("x-apikey", p.APIKey)

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := doJSON(p.Client, req, &body); err != nil {
		return model.ProviderResult{}, err
	}
	if len(body.Data) > 0 && string(body.Data) != "null" {
		return model.ProviderResult{Tags: []string{"vt_flagged"}, Score: 40}, nil
	}
	return model.ProviderResult{}, nil
}

func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	if client == nil {
		client = defaultClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
