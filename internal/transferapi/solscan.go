package transferapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"walletscope/internal/model"
	"walletscope/internal/scan"
)

type solscanResponse struct {
	Data       []solscanTransfer `json:"data"`
	NextCursor string            `json:"nextCursor"`
}

type solscanTransfer struct {
	TxHash       string `json:"txHash"`
	Src          string `json:"src"`
	Dst          string `json:"dst"`
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
	Slot         uint64 `json:"slot"`
	BlockTime    uint64 `json:"blockTime"`
}

func (c *Client) fetchSolscan(ctx context.Context, endpoint Endpoint, q scan.Query) (scan.Page, error) {
	params := url.Values{}
	params.Set("address", q.Address)
	params.Set("direction", string(q.Direction))
	params.Set("fromSlot", strconv.FormatUint(q.StartBlock, 10))
	params.Set("limit", strconv.Itoa(c.cfg.PageSize))
	params.Set("sort", "asc")
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return scan.Page{}, err
	}
	if endpoint.APIKey != "" {
		request.Header.Set("token", endpoint.APIKey)
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

	var decoded solscanResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return scan.Page{}, fmt.Errorf("decode transfer response: %w", err)
	}

	transfers := make([]model.TransferRecord, 0, len(decoded.Data))
	for _, row := range decoded.Data {
		if row.TxHash == "" {
			c.logger.Warn("skip transfer row without tx hash", zap.String("address", q.Address))
			continue
		}
		token := row.TokenAddress
		if token == "" {
			token = "native"
		}
		transfers = append(transfers, model.TransferRecord{
			From:        row.Src,
			To:          row.Dst,
			Chain:       q.Chain,
			Token:       token,
			Amount:      row.Amount,
			TxID:        row.TxHash,
			BlockNumber: row.Slot,
			Timestamp:   row.BlockTime,
		})
	}

	return scan.Page{Transfers: transfers, NextCursor: decoded.NextCursor}, nil
}
