// Package metadata fetches the collection metadata a contract URI points at,
// so a broken URI is caught before anything is sent on-chain.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIPFSGateway = `https://ipfs.io/ipfs/`
	DefaultTimeout     = 15 * time.Second

	maxDocumentSize = 1 << 20
)

type Client struct {
	http    *http.Client
	gateway string
	logger  *zap.Logger
}

func New(gateway string, logger *zap.Logger) *Client {
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		gateway: gateway,
		logger:  logger,
	}
}

// ResolveURI maps ipfs:// URIs onto the gateway and leaves http(s) URIs alone.
func (c *Client) ResolveURI(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(strings.TrimPrefix(uri, "ipfs://"), "ipfs/")
		return c.gateway + path, nil
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return uri, nil
	}
	return "", fmt.Errorf("unsupported metadata uri %q", uri)
}

func (c *Client) FetchContractMetadata(ctx context.Context, uri string) (*ContractMetadata, error) {
	url, err := c.ResolveURI(uri)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch contract metadata: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch contract metadata %s: unexpected status %s", url, resp.Status)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read contract metadata: %w", err)
	}

	response := &ContractMetadata{}
	if err := json.Unmarshal(bodyBytes, response); err != nil {
		return nil, fmt.Errorf("decode contract metadata %s: %w", url, err)
	}
	if response.Name == "" {
		return nil, errors.New("contract metadata has no name")
	}
	if response.SellerFeeBasisPoints > 10000 {
		return nil, fmt.Errorf("seller_fee_basis_points %d exceeds 10000", response.SellerFeeBasisPoints)
	}

	c.logger.Info("Contract metadata fetched",
		zap.String("uri", uri),
		zap.String("name", response.Name),
		zap.Uint16("seller_fee_basis_points", response.SellerFeeBasisPoints))

	return response, nil
}
