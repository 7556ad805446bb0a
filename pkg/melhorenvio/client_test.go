package melhorenvio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/negomaq/storefront-backend/pkg/config"
)

func testConfig() config.MelhorEnvioConfig {
	return config.MelhorEnvioConfig{
		Token:       "TEST-token",
		BaseURL:     "http://me.test/api/v2",
		UserAgent:   "storefront-test (dev@example.com)",
		MaxAttempts: 3,
	}
}

func TestQuoteRequest(t *testing.T) {
	const expectedURL = "http://me.test/api/v2/me/shipment/calculate"
	respBody := `[
		{"id":1,"name":"PAC","price":"27.80","delivery_time":8,"company":{"name":"Correios"}},
		{"id":2,"name":"SEDEX","price":"45.10","delivery_time":3,"company":{"name":"Correios"}},
		{"id":3,"name":".Package","error":"unavailable for route"}
	]`

	var capturedURL string
	var capturedHeaders http.Header
	var capturedPayload map[string]any

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(bodyBytes, &capturedPayload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	quotes, err := client.Quote(context.Background(), QuoteRequest{
		FromCEP: "01310-100",
		ToCEP:   "20040002",
		Package: Package{
			WeightKg: decimal.RequireFromString("1.2"),
			LengthCm: 20,
			HeightCm: 10,
			WidthCm:  15,
		},
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if got := capturedHeaders.Get("Authorization"); got != "Bearer TEST-token" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if got := capturedHeaders.Get("User-Agent"); got != "storefront-test (dev@example.com)" {
		t.Fatalf("unexpected user agent %q", got)
	}

	from := capturedPayload["from"].(map[string]any)
	if from["postal_code"] != "01310100" {
		t.Fatalf("expected normalized origin CEP, got %v", from["postal_code"])
	}

	if len(quotes) != 2 {
		t.Fatalf("errored services must be skipped, got %d quotes", len(quotes))
	}
	if quotes[1].ServiceName != "SEDEX" || !quotes[1].Price.Equal(decimal.RequireFromString("45.10")) {
		t.Fatalf("unexpected quote %+v", quotes[1])
	}
}

func TestQuote_InvalidCEP(t *testing.T) {
	client, err := NewClient(testConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Quote(context.Background(), QuoteRequest{
		FromCEP: "123",
		ToCEP:   "20040002",
		Package: Package{WeightKg: decimal.NewFromInt(1), LengthCm: 10, HeightCm: 10, WidthCm: 10},
	})
	if err == nil {
		t.Fatal("expected short CEP to be rejected before any request")
	}
}

func TestCreateCartRequest(t *testing.T) {
	respBody := `{"id":"ship_abc","protocol":"ME-2024-001","status":"pending","price":"28.30"}`

	var capturedPayload map[string]any
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v2/me/cart" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		bodyBytes, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(bodyBytes, &capturedPayload); err != nil {
			t.Fatalf("unmarshal cart payload: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	entry, err := client.CreateCart(context.Background(), CartRequest{
		ServiceID: 2,
		FromCEP:   "01310100",
		To: Recipient{
			Name:   "Maria Silva",
			Email:  "maria@example.com",
			Street: "Av. Rio Branco",
			Number: "1",
			City:   "Rio de Janeiro",
			State:  "RJ",
			CEP:    "20040-002",
		},
		Package: Package{
			WeightKg: decimal.RequireFromString("1.2"),
			LengthCm: 20,
			HeightCm: 10,
			WidthCm:  15,
		},
		InsuranceValue: decimal.RequireFromString("99.80"),
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	if capturedPayload["service"] != float64(2) {
		t.Fatalf("unexpected service %v", capturedPayload["service"])
	}
	to := capturedPayload["to"].(map[string]any)
	if to["postal_code"] != "20040002" {
		t.Fatalf("expected normalized destination CEP, got %v", to["postal_code"])
	}
	if entry.ID != "ship_abc" || entry.Protocol != "ME-2024-001" {
		t.Fatalf("unexpected cart entry %+v", entry)
	}
	if !entry.Price.Equal(decimal.RequireFromString("28.30")) {
		t.Fatalf("unexpected cart price %s", entry.Price)
	}
}

func TestPurchaseGeneratePrintFlow(t *testing.T) {
	var paths []string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.URL.Path)
		body := `{}`
		if strings.HasSuffix(req.URL.Path, "/print") {
			body = `{"url":"https://me.test/labels/abc.pdf"}`
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()
	if err := client.Purchase(ctx, "ship_abc"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := client.GenerateLabel(ctx, "ship_abc"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	labelURL, err := client.PrintLabel(ctx, "ship_abc")
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	if labelURL != "https://me.test/labels/abc.pdf" {
		t.Fatalf("unexpected label url %q", labelURL)
	}

	want := []string{"/api/v2/me/shipment/checkout", "/api/v2/me/shipment/generate", "/api/v2/me/shipment/print"}
	for i, path := range want {
		if paths[i] != path {
			t.Fatalf("expected call %d to hit %s, got %s", i, path, paths[i])
		}
	}
}

func TestServerErrorRetried(t *testing.T) {
	attempts := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 2 {
			return &http.Response{
				StatusCode: http.StatusServiceUnavailable,
				Body:       io.NopCloser(strings.NewReader("maintenance")),
				Header:     http.Header{},
			}, nil
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
			Header:     http.Header{},
		}, nil
	})

	cfg := testConfig()
	cfg.RetryBaseDelay = 1
	client, err := NewClient(cfg, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.Purchase(context.Background(), "ship_abc"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
