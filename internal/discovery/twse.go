// Package discovery scrapes the TWSE ETF list and filters it down to
// active funds, whose codes end in "A". Discovery feeds the instrument
// registry; it never decides which funds actually get ingested.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/etfwatch/etfwatch/internal/fetch"
	"github.com/etfwatch/etfwatch/pkg/models"
	"github.com/etfwatch/etfwatch/pkg/utils"
)

const twseETFListURL = "https://www.twse.com.tw/zh/ETF/etfList"

// TWSE discovers active ETFs from the exchange's public fund list.
type TWSE struct {
	client *fetch.Client
	url    string
}

// NewTWSE creates a TWSE discovery source sharing the pipeline's
// fetch client.
func NewTWSE(client *fetch.Client) *TWSE {
	return &TWSE{client: client, url: twseETFListURL}
}

// ActiveFunds fetches the exchange list and returns the active ETFs in
// page order. Table layout: code, name, then optionally issuer and
// listing date.
func (t *TWSE) ActiveFunds(ctx context.Context) ([]models.Instrument, error) {
	page, err := t.client.Do(ctx, &fetch.Request{Method: http.MethodGet, URL: t.url})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse etf list: %w", err)
	}

	var funds []models.Instrument
	seen := make(map[string]bool)
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return // header or spacer row
		}
		code := strings.TrimSpace(cells.Eq(0).Text())
		if !utils.IsActiveFundCode(code) || seen[code] {
			return
		}
		seen[code] = true
		in := models.Instrument{
			Code: code,
			Name: strings.TrimSpace(cells.Eq(1).Text()),
		}
		if cells.Length() > 2 {
			in.Issuer = strings.TrimSpace(cells.Eq(2).Text())
		}
		if cells.Length() > 3 {
			in.ListingDate = strings.TrimSpace(cells.Eq(3).Text())
		}
		funds = append(funds, in)
	})

	if len(funds) == 0 {
		return nil, fmt.Errorf("no active funds found at %s", t.url)
	}
	return funds, nil
}
