package vpp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the default REST endpoint of the VPP agent
	DefaultURL = "http://127.0.0.1:9191"

	interfacesPath = "/dump/vpp/v2/interfaces"
	routesPath     = "/dump/vpp/v2/routes"
)

// InterfaceDump is one entry of the agent interface dump
type InterfaceDump struct {
	Interface struct {
		Name        string   `json:"name"`
		Enabled     bool     `json:"enabled"`
		PhysAddress string   `json:"phys_address,omitempty"`
		IPAddresses []string `json:"ip_addresses,omitempty"`
		Vrf         uint32   `json:"vrf,omitempty"`
	} `json:"interface"`
	Meta struct {
		SwIfIndex    int    `json:"sw_if_index"`
		InternalName string `json:"internal_name,omitempty"`
		IsLinkUp     bool   `json:"is_link_state_up"`
	} `json:"interface_meta"`
}

// RouteDump is one entry of the agent route dump
type RouteDump struct {
	Route struct {
		VrfID             uint32 `json:"vrf_id"`
		DstNetwork        string `json:"dst_network"`
		NextHopAddr       string `json:"next_hop_addr,omitempty"`
		OutgoingInterface string `json:"outgoing_interface,omitempty"`
	} `json:"route"`
}

// Client talks to the REST API of a VPP agent
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new VPP agent client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Interfaces dumps the VPP interfaces
func (c *Client) Interfaces(ctx context.Context) ([]InterfaceDump, error) {
	var out []InterfaceDump
	if err := c.get(ctx, interfacesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Routes dumps the VPP routes of every VRF
func (c *Client) Routes(ctx context.Context) ([]RouteDump, error) {
	var out []RouteDump
	if err := c.get(ctx, routesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("VPP agent error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}
