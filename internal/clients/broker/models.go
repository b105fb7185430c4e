package broker

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Service paths of the REST gateway
const (
	pathGetPortfolio  = "/tinkoff.public.invest.api.contract.v1.OperationsService/GetPortfolio"
	pathShares        = "/tinkoff.public.invest.api.contract.v1.InstrumentsService/Shares"
	pathEtfs          = "/tinkoff.public.invest.api.contract.v1.InstrumentsService/Etfs"
	pathGetLastPrices = "/tinkoff.public.invest.api.contract.v1.MarketDataService/GetLastPrices"
	pathPostOrder     = "/tinkoff.public.invest.api.contract.v1.OrdersService/PostOrder"
)

// quotation is a fixed point number: units plus nano (1e-9) parts.
// int64 values arrive as JSON strings.
type quotation struct {
	Units json.Number `json:"units"`
	Nano  int32       `json:"nano"`
}

func (q *quotation) Float() float64 {
	if q == nil {
		return 0
	}
	units, _ := strconv.ParseInt(q.Units.String(), 10, 64)
	return float64(units) + float64(q.Nano)/1e9
}

func newQuotation(v float64) quotation {
	units, frac := math.Modf(v)
	return quotation{
		Units: json.Number(strconv.FormatInt(int64(units), 10)),
		Nano:  int32(math.Round(frac * 1e9)),
	}
}

type moneyValue struct {
	Currency string      `json:"currency"`
	Units    json.Number `json:"units"`
	Nano     int32       `json:"nano"`
}

func (m *moneyValue) Float() float64 {
	if m == nil {
		return 0
	}
	return (&quotation{Units: m.Units, Nano: m.Nano}).Float()
}

func (m *moneyValue) CurrencyCode() string {
	if m == nil {
		return ""
	}
	return strings.ToUpper(m.Currency)
}

type portfolioRequest struct {
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
}

type portfolioPosition struct {
	Figi                     string      `json:"figi"`
	InstrumentType           string      `json:"instrumentType"`
	Quantity                 *quotation  `json:"quantity"`
	AveragePositionPrice     *moneyValue `json:"averagePositionPrice"`
	AveragePositionPriceFifo *moneyValue `json:"averagePositionPriceFifo"`
	CurrentPrice             *moneyValue `json:"currentPrice"`
	Blocked                  bool        `json:"blocked"`
}

type portfolioResponse struct {
	Positions []portfolioPosition `json:"positions"`
}

type instrumentsRequest struct {
	InstrumentStatus string `json:"instrumentStatus"`
}

type instrumentRecord struct {
	Figi     string      `json:"figi"`
	Ticker   string      `json:"ticker"`
	Name     string      `json:"name"`
	Lot      json.Number `json:"lot"`
	Currency string      `json:"currency"`
}

type instrumentsResponse struct {
	Instruments []instrumentRecord `json:"instruments"`
}

type lastPricesRequest struct {
	InstrumentID []string `json:"instrumentId"`
}

type lastPrice struct {
	Figi          string     `json:"figi"`
	InstrumentUID string     `json:"instrumentUid"`
	Price         *quotation `json:"price"`
}

type lastPricesResponse struct {
	LastPrices []lastPrice `json:"lastPrices"`
}

type postOrderRequest struct {
	Quantity     json.Number `json:"quantity"`
	Direction    string      `json:"direction"`
	AccountID    string      `json:"accountId"`
	OrderType    string      `json:"orderType"`
	OrderID      string      `json:"orderId"`
	InstrumentID string      `json:"instrumentId"`
}

type postOrderResponse struct {
	OrderID               string      `json:"orderId"`
	ExecutionReportStatus string      `json:"executionReportStatus"`
	LotsExecuted          json.Number `json:"lotsExecuted"`
	ExecutedOrderPrice    *moneyValue `json:"executedOrderPrice"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
