package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/etfwatch/etfwatch/internal/fetch"
)

const nomuraAPIURL = "https://www.nomurafunds.com.tw/API/ETFAPI/api/Fund/GetFundAssets"

// nomuraFundIDs maps system instrument codes to Nomura's internal fund
// identifiers. For Nomura the two happen to coincide.
var nomuraFundIDs = map[string]string{
	"00980A": "00980A", // 野村台灣創新科技50
	"00985A": "00985A", // 主動野村臺灣優選
}

// Nomura fetches holdings from the Nomura Funds ETF API. The endpoint
// accepts an explicit search date, so historical fetches are supported.
type Nomura struct {
	client *fetch.Client
}

// NewNomura creates the Nomura adapter on the shared fetch client.
func NewNomura(client *fetch.Client) *Nomura {
	return &Nomura{client: client}
}

func (n *Nomura) Name() string                  { return "nomura" }
func (n *Nomura) Issuer() string                { return "野村投信" }
func (n *Nomura) SupportsHistoricalFetch() bool { return true }

func (n *Nomura) FundID(code string) (string, error) {
	id, ok := nomuraFundIDs[code]
	if !ok {
		return "", &ConfigError{Kind: UnknownInstrument, Adapter: n.Name(), Instrument: code}
	}
	return id, nil
}

func (n *Nomura) FetchRaw(ctx context.Context, code, date string) (*fetch.RawPage, error) {
	fundID, err := n.FundID(code)
	if err != nil {
		return nil, err
	}
	return n.client.Do(ctx, &fetch.Request{
		Method: http.MethodPost,
		URL:    nomuraAPIURL,
		Header: map[string]string{
			"Origin":  "https://www.nomurafunds.com.tw",
			"Referer": "https://www.nomurafunds.com.tw/ETFWEB/product-description",
		},
		JSONBody: map[string]string{
			"FundID":     fundID,
			"SearchDate": date,
		},
	})
}

// nomuraAssetsResponse mirrors the GetFundAssets payload. The stock
// holdings live in Entries.Data.Table under the table titled 股票, with
// each row an array [code, name, shares, weight%].
type nomuraAssetsResponse struct {
	Entries struct {
		Data struct {
			Table []nomuraTable `json:"Table"`
		} `json:"Data"`
	} `json:"Entries"`
}

type nomuraTable struct {
	TableTitle string  `json:"TableTitle"`
	Rows       [][]any `json:"Rows"`
}

func (n *Nomura) Parse(page *fetch.RawPage, code, date string) ([]RawHolding, error) {
	dec := json.NewDecoder(bytes.NewReader(page.Body))
	dec.UseNumber()

	var resp nomuraAssetsResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: n.Name(), Instrument: code, Date: date,
			Fragment: snippet(page.Body), Err: err,
		}
	}
	if len(resp.Entries.Data.Table) == 0 {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: n.Name(), Instrument: code, Date: date,
			Fragment: snippet(page.Body),
		}
	}

	var holdings []RawHolding
	found := false
	for _, table := range resp.Entries.Data.Table {
		if table.TableTitle != "股票" {
			continue
		}
		found = true
		for _, row := range table.Rows {
			if len(row) < 4 {
				continue
			}
			holdings = append(holdings, RawHolding{
				SecurityCode: cellText(row[0]),
				SecurityName: cellText(row[1]),
				Shares:       cellText(row[2]),
				Weight:       cellText(row[3]),
				Date:         date,
			})
		}
	}
	if !found {
		return nil, &ParseError{
			Kind: MissingField, Adapter: n.Name(), Instrument: code, Date: date,
			Fragment: "no 股票 asset table in response",
		}
	}
	return holdings, nil
}
