package types

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Endpoint is a priced operation of the API.
type Endpoint struct {
	Name   string
	Method string

	// Path is a format string; %s is replaced with the escaped market slug.
	Path string

	// Price in USD. Zero means the endpoint is free and needs no access proof.
	Price decimal.Decimal
}

var (
	EndpointInfo     = Endpoint{Name: "info", Method: http.MethodGet, Path: "/api/v1/info", Price: decimal.Zero}
	EndpointSignal   = Endpoint{Name: "signal", Method: http.MethodGet, Path: "/api/v1/signal/%s", Price: decimal.RequireFromString("0.01")}
	EndpointAnalysis = Endpoint{Name: "analysis", Method: http.MethodGet, Path: "/api/v1/analysis/%s", Price: decimal.RequireFromString("0.03")}
	EndpointWhale    = Endpoint{Name: "whale", Method: http.MethodGet, Path: "/api/v1/whale/%s", Price: decimal.RequireFromString("0.02")}
	EndpointBulk     = Endpoint{Name: "bulk", Method: http.MethodGet, Path: "/api/v1/bulk", Price: decimal.RequireFromString("0.08")}
	EndpointAnalyze  = Endpoint{Name: "analyze", Method: http.MethodPost, Path: "/api/v1/analyze", Price: decimal.RequireFromString("0.05")}
)

// Endpoints returns every known endpoint.
func Endpoints() []Endpoint {
	return []Endpoint{EndpointInfo, EndpointSignal, EndpointAnalysis, EndpointWhale, EndpointBulk, EndpointAnalyze}
}

// Free reports whether the endpoint can be called without proof or payment.
func (e Endpoint) Free() bool {
	return e.Price.IsZero()
}

// AtomicPrice is the price in USDC atomic units.
func (e Endpoint) AtomicPrice() uint64 {
	return uint64(e.Price.Shift(USDCDecimals).IntPart())
}

// Parameterized reports whether the path takes a market slug.
func (e Endpoint) Parameterized() bool {
	return strings.Contains(e.Path, "%s")
}

// Request builds an APIRequest for the endpoint.
func (e Endpoint) Request(slug string, body interface{}) APIRequest {
	path := e.Path
	if e.Parameterized() {
		path = fmt.Sprintf(e.Path, url.PathEscape(slug))
	}
	return APIRequest{Endpoint: e, Path: path, Body: body}
}
