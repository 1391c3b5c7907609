package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/etfwatch/etfwatch/internal/fetch"
)

const fsitcAPIURL = "https://www.fsitc.com.tw/WebAPI.aspx/Get_hd"

// fsitcFundIDs maps system instrument codes to FSITC's internal fund ids.
var fsitcFundIDs = map[string]string{
	"00994A": "182", // 主動第一金台灣優勢
}

var fsitcCodeRe = regexp.MustCompile(`^\d{4}$`)

// FSITC fetches holdings from the 第一金投信 site. The endpoint wraps its
// payload in a "d" string which is sometimes a JSON list and sometimes an
// HTML fragment; Parse handles both shapes.
type FSITC struct {
	client *fetch.Client
}

// NewFSITC creates the FSITC adapter on the shared fetch client.
func NewFSITC(client *fetch.Client) *FSITC {
	return &FSITC{client: client}
}

func (f *FSITC) Name() string                  { return "fsitc" }
func (f *FSITC) Issuer() string                { return "第一金投信" }
func (f *FSITC) SupportsHistoricalFetch() bool { return true }

func (f *FSITC) FundID(code string) (string, error) {
	id, ok := fsitcFundIDs[code]
	if !ok {
		return "", &ConfigError{Kind: UnknownInstrument, Adapter: f.Name(), Instrument: code}
	}
	return id, nil
}

func (f *FSITC) FetchRaw(ctx context.Context, code, date string) (*fetch.RawPage, error) {
	fundID, err := f.FundID(code)
	if err != nil {
		return nil, err
	}
	return f.client.Do(ctx, &fetch.Request{
		Method: http.MethodPost,
		URL:    fsitcAPIURL,
		Header: map[string]string{
			"Origin":           "https://www.fsitc.com.tw",
			"Referer":          "https://www.fsitc.com.tw/FundDetail.aspx",
			"X-Requested-With": "XMLHttpRequest",
		},
		JSONBody: map[string]string{
			"pStrFundID": fundID,
			"pStrDate":   date,
		},
	})
}

// fsitcRow is one JSON-shaped holding. Short keys are the live API's:
// A=code, B=name, C=weight%, D=shares; sdate carries the actual data
// date, which may differ from the requested one.
type fsitcRow struct {
	A     any    `json:"A"`
	B     any    `json:"B"`
	C     any    `json:"C"`
	D     any    `json:"D"`
	SDate string `json:"sdate"`
}

func (f *FSITC) Parse(page *fetch.RawPage, code, date string) ([]RawHolding, error) {
	var outer struct {
		D string `json:"d"`
	}
	if err := json.Unmarshal(page.Body, &outer); err != nil || outer.D == "" {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: f.Name(), Instrument: code, Date: date,
			Fragment: snippet(page.Body), Err: err,
		}
	}

	payload := strings.TrimSpace(outer.D)
	if strings.HasPrefix(payload, "<") {
		return f.parseHTML(payload, code, date)
	}
	return f.parseJSON(payload, code, date)
}

func (f *FSITC) parseJSON(payload, code, date string) ([]RawHolding, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var rows []fsitcRow
	if err := dec.Decode(&rows); err != nil {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: f.Name(), Instrument: code, Date: date,
			Fragment: snippet([]byte(payload)), Err: err,
		}
	}

	// The issuer may answer a request for date D with data for an
	// earlier date; trust its sdate when present.
	actualDate := date
	if len(rows) > 0 && rows[0].SDate != "" {
		actualDate = rows[0].SDate
	}

	holdings := make([]RawHolding, 0, len(rows))
	for _, row := range rows {
		secCode := strings.TrimSpace(cellText(row.A))
		if secCode == "" {
			continue
		}
		holdings = append(holdings, RawHolding{
			SecurityCode: secCode,
			SecurityName: strings.TrimSpace(cellText(row.B)),
			Weight:       cellText(row.C),
			Shares:       cellText(row.D),
			Date:         actualDate,
		})
	}
	return holdings, nil
}

// parseHTML walks the fragment shape: one li per holding, with spans for
// code, name, weight, shares in that order.
func (f *FSITC) parseHTML(payload, code, date string) ([]RawHolding, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		return nil, &ParseError{
			Kind: UnexpectedShape, Adapter: f.Name(), Instrument: code, Date: date,
			Fragment: snippet([]byte(payload)), Err: err,
		}
	}

	var holdings []RawHolding
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		spans := li.Find("span")
		if spans.Length() < 4 {
			return
		}
		secCode := strings.TrimSpace(spans.Eq(0).Text())
		if !fsitcCodeRe.MatchString(secCode) {
			return
		}
		holdings = append(holdings, RawHolding{
			SecurityCode: secCode,
			SecurityName: strings.TrimSpace(spans.Eq(1).Text()),
			Weight:       strings.TrimSpace(spans.Eq(2).Text()),
			Shares:       strings.TrimSpace(spans.Eq(3).Text()),
			Date:         date,
		})
	})

	if len(holdings) == 0 {
		return nil, &ParseError{
			Kind: MissingField, Adapter: f.Name(), Instrument: code, Date: date,
			Fragment: snippet([]byte(payload)),
		}
	}
	return holdings, nil
}
