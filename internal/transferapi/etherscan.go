package transferapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"walletscope/internal/model"
	"walletscope/internal/scan"
)

// etherscanResponse is the envelope every etherscan-compatible API wraps
// results in. Status "0" with a rate-limit message is throttling, not an
// empty result.
type etherscanResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Result  []etherscanTransfer `json:"result"`
}

type etherscanTransfer struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
}

func (c *Client) fetchEtherscan(ctx context.Context, endpoint Endpoint, q scan.Query) (scan.Page, error) {
	page := 1
	if q.Cursor != "" {
		parsed, err := strconv.Atoi(q.Cursor)
		if err != nil {
			return scan.Page{}, fmt.Errorf("bad pagination cursor %q: %w", q.Cursor, err)
		}
		page = parsed
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("address", q.Address)
	params.Set("startblock", strconv.FormatUint(q.StartBlock, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(c.cfg.PageSize))
	params.Set("sort", "asc")
	if endpoint.APIKey != "" {
		params.Set("apikey", endpoint.APIKey)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return scan.Page{}, err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return scan.Page{}, fmt.Errorf("transfer api: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusTooManyRequests {
		return scan.Page{}, scan.ErrRateLimited
	}
	if response.StatusCode != http.StatusOK {
		return scan.Page{}, fmt.Errorf("transfer api: unexpected status %d", response.StatusCode)
	}

	var decoded etherscanResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return scan.Page{}, fmt.Errorf("decode transfer response: %w", err)
	}
	if decoded.Status != "1" && isRateLimitMessage(decoded.Message) {
		return scan.Page{}, scan.ErrRateLimited
	}

	transfers := make([]model.TransferRecord, 0, len(decoded.Result))
	for _, row := range decoded.Result {
		record, err := etherscanRecord(q.Chain, row)
		if err != nil {
			c.logger.Warn("skip malformed transfer row", zap.Error(err), zap.String("tx", row.Hash))
			continue
		}
		transfers = append(transfers, record)
	}

	next := ""
	if len(decoded.Result) == c.cfg.PageSize {
		next = strconv.Itoa(page + 1)
	}
	return scan.Page{Transfers: transfers, NextCursor: next}, nil
}

func etherscanRecord(chain string, row etherscanTransfer) (model.TransferRecord, error) {
	block, err := strconv.ParseUint(row.BlockNumber, 10, 64)
	if err != nil {
		return model.TransferRecord{}, fmt.Errorf("block number %q: %w", row.BlockNumber, err)
	}
	timestamp, err := strconv.ParseUint(row.TimeStamp, 10, 64)
	if err != nil {
		return model.TransferRecord{}, fmt.Errorf("timestamp %q: %w", row.TimeStamp, err)
	}

	token := row.ContractAddress
	if token == "" {
		token = "native"
	}
	return model.TransferRecord{
		From:        row.From,
		To:          row.To,
		Chain:       chain,
		Token:       token,
		Amount:      row.Value,
		TxID:        row.Hash,
		BlockNumber: block,
		Timestamp:   timestamp,
	}, nil
}

func isRateLimitMessage(message string) bool {
	lowered := strings.ToLower(message)
	return strings.Contains(lowered, "rate limit") || strings.Contains(lowered, "max rate")
}
