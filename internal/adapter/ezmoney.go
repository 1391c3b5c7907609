package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/etfwatch/etfwatch/internal/fetch"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

const ezmoneyAPIURL = "https://www.ezmoney.com.tw/ETF/Transaction/GetPCF"

// ezmoneyFundCodes maps system instrument codes to EZMoney's internal
// fund codes.
var ezmoneyFundCodes = map[string]string{
	"00981A": "49YTW", // 主動統一台股增長
}

// EZMoney fetches the PCF (申購買回清單) from the EZMoney site. The site
// publishes only the current composition — requests for past dates are
// rejected upstream via SupportsHistoricalFetch. Dates on the wire use
// the ROC calendar.
type EZMoney struct {
	client *fetch.Client
}

// NewEZMoney creates the EZMoney adapter on the shared fetch client.
func NewEZMoney(client *fetch.Client) *EZMoney {
	return &EZMoney{client: client}
}

func (e *EZMoney) Name() string                  { return "ezmoney" }
func (e *EZMoney) Issuer() string                { return "統一投信" }
func (e *EZMoney) SupportsHistoricalFetch() bool { return false }

func (e *EZMoney) FundID(code string) (string, error) {
	id, ok := ezmoneyFundCodes[code]
	if !ok {
		return "", &ConfigError{Kind: UnknownInstrument, Adapter: e.Name(), Instrument: code}
	}
	return id, nil
}

func (e *EZMoney) FetchRaw(ctx context.Context, code, date string) (*fetch.RawPage, error) {
	fundCode, err := e.FundID(code)
	if err != nil {
		return nil, err
	}
	rocDate, err := utils.ToROCDate(date)
	if err != nil {
		return nil, err
	}
	return e.client.Do(ctx, &fetch.Request{
		Method: http.MethodPost,
		URL:    ezmoneyAPIURL,
		Header: map[string]string{
			"Origin":           "https://www.ezmoney.com.tw",
			"Referer":          "https://www.ezmoney.com.tw/ETF/Transaction/PCF",
			"X-Requested-With": "XMLHttpRequest",
		},
		JSONBody: map[string]any{
			"fundCode":     fundCode,
			"date":         rocDate,
			"specificDate": true,
		},
	})
}

// ezmoneyPCFResponse mirrors the GetPCF payload: asset categories at the
// root, with stock holdings under AssetCode "ST".
type ezmoneyPCFResponse struct {
	Asset []struct {
		AssetCode string          `json:"AssetCode"`
		AssetName string          `json:"AssetName"`
		Details   []ezmoneyDetail `json:"Details"`
	} `json:"asset"`
}

type ezmoneyDetail struct {
	DetailCode string `json:"DetailCode"`
	DetailName string `json:"DetailName"`
	Share      any    `json:"Share"`
	Amount     any    `json:"Amount"`
	NavRate    any    `json:"NavRate"`
}

func (e *EZMoney) Parse(page *fetch.RawPage, code, date string) ([]RawHolding, error) {
	dec := json.NewDecoder(bytes.NewReader(page.Body))
	dec.UseNumber()

	var resp ezmoneyPCFResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: e.Name(), Instrument: code, Date: date,
			Fragment: snippet(page.Body), Err: err,
		}
	}
	if len(resp.Asset) == 0 {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: e.Name(), Instrument: code, Date: date,
			Fragment: snippet(page.Body),
		}
	}

	for _, asset := range resp.Asset {
		if asset.AssetCode != "ST" {
			continue
		}
		holdings := make([]RawHolding, 0, len(asset.Details))
		for _, d := range asset.Details {
			holdings = append(holdings, RawHolding{
				SecurityCode: d.DetailCode,
				SecurityName: d.DetailName,
				Shares:       cellText(d.Share),
				MarketValue:  cellText(d.Amount),
				Weight:       cellText(d.NavRate),
				Date:         date,
			})
		}
		return holdings, nil
	}

	return nil, &ParseError{
		Kind: MissingField, Adapter: e.Name(), Instrument: code, Date: date,
		Fragment: "no ST asset category in PCF response",
	}
}
