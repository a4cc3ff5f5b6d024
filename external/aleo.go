package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/TrustLayer-Labs/credentials-api/util"
)

const (
	// Limit explorer responses to 10MB. Transactions with proofs are a few hundred KB.
	maxExplorerResponseSize = 10 * 1024 * 1024
)

// ErrNotFound is returned when the explorer reports that an entity does not exist.
var ErrNotFound = errors.New("not found")

// ChainQuerier is the read-only view of the Aleo ledger used by the services.
type ChainQuerier interface {
	QueryMapping(ctx context.Context, mapping, key string) (models.MappingValue, error)
	BlockHeight(ctx context.Context) (uint32, error)
	Transaction(ctx context.Context, txID string) (*models.Transaction, json.RawMessage, error)
}

// AleoClient queries an Aleo explorer REST endpoint. Every call is a single GET
// with no retries.
type AleoClient struct {
	endpoint string
	network  string
	program  string
	client   *http.Client
}

func NewAleoClient(endpoint, network, program string, client *http.Client) *AleoClient {
	return &AleoClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		network:  network,
		program:  program,
		client:   client,
	}
}

// BroadcastURL is where signed transactions are submitted.
func (c *AleoClient) BroadcastURL() string {
	u, _ := url.JoinPath(c.endpoint, c.network, "transaction", "broadcast")
	return u
}

func (c *AleoClient) get(ctx context.Context, segments ...string) ([]byte, error) {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, url.PathEscape(c.network))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u := c.endpoint + "/" + strings.Join(escaped, "/")
	return util.HTTPLimitedGet(ctx, c.client, u, maxExplorerResponseSize)
}

// QueryMapping reads mapping[key] from the configured program. A `null` or
// empty answer, or a 404, means the key is absent.
func (c *AleoClient) QueryMapping(ctx context.Context, mapping, key string) (models.MappingValue, error) {
	body, err := c.get(ctx, "program", c.program, "mapping", mapping, key)
	if err != nil {
		var se *util.HTTPStatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return models.MappingAbsent, nil
		}
		return models.MappingUnknown, fmt.Errorf("query mapping %s: %w", mapping, err)
	}
	value := strings.TrimSpace(string(body))
	if value == "" || value == "null" {
		return models.MappingAbsent, nil
	}
	if strings.ReplaceAll(value, `"`, "") == "true" {
		return models.MappingTrue, nil
	}
	return models.MappingFalse, nil
}

// BlockHeight returns the latest block height.
func (c *AleoClient) BlockHeight(ctx context.Context) (uint32, error) {
	body, err := c.get(ctx, "block", "height", "latest")
	if err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	h, err := strconv.ParseUint(strings.Trim(strings.TrimSpace(string(body)), `"`), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("get block height: unexpected response %q", truncate(string(body), 64))
	}
	return uint32(h), nil
}

// Transaction fetches a transaction by ID. The raw document is returned too,
// since the explorer format carries more than the service models.
func (c *AleoClient) Transaction(ctx context.Context, txID string) (*models.Transaction, json.RawMessage, error) {
	body, err := c.get(ctx, "transaction", txID)
	if err != nil {
		var se *util.HTTPStatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get transaction: %w", err)
	}
	if strings.TrimSpace(string(body)) == "null" {
		return nil, nil, ErrNotFound
	}
	var tx models.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
