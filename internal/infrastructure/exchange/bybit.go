package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vitos/trade_alert_engine/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/private"

	recvWindow  = 5000
	accountType = "UNIFIED"
)

// BybitGateway implements domain.Gateway against the Bybit V5 REST API for a
// single credential pair.
type BybitGateway struct {
	apiKey    string
	apiSecret string
	client    *resty.Client
}

func NewBybitGateway(creds domain.Credentials, baseURL string) *BybitGateway {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitGateway{
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

// NewGatewayFactory returns a factory binding every credential pair to the
// same base URL.
func NewGatewayFactory(baseURL string) domain.GatewayFactory {
	return func(creds domain.Credentials) domain.Gateway {
		return NewBybitGateway(creds, baseURL)
	}
}

// apiResponse is the V5 envelope. Result stays raw so each call unmarshals
// only the shape it expects.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign builds the V5 HMAC over timestamp + apiKey + recvWindow + params.
func (g *BybitGateway) sign(params string, timestamp int64) string {
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, g.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(g.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *BybitGateway) headers(params string) map[string]string {
	timestamp := time.Now().UnixMilli()
	return map[string]string{
		"X-BAPI-API-KEY":     g.apiKey,
		"X-BAPI-TIMESTAMP":   strconv.FormatInt(timestamp, 10),
		"X-BAPI-SIGN":        g.sign(params, timestamp),
		"X-BAPI-RECV-WINDOW": strconv.Itoa(recvWindow),
		"Content-Type":       "application/json",
	}
}

func (g *BybitGateway) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	encoded := query.Encode()
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeaders(g.headers(encoded)).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return g.decode(op, resp, out)
}

func (g *BybitGateway) post(ctx context.Context, op, path string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeaders(g.headers(string(body))).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return g.decode(op, resp, out)
}

func (g *BybitGateway) decode(op string, resp *resty.Response, out interface{}) error {
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode(), resp.String())
	}
	var env apiResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if env.RetCode != 0 {
		return &domain.ExchangeError{Op: op, Code: env.RetCode, Msg: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", op, err)
		}
	}
	return nil
}

func (g *BybitGateway) GetAccountUID(ctx context.Context) (string, error) {
	var result struct {
		UserID int `json:"userID"`
	}
	if err := g.get(ctx, "query-api", "/v5/user/query-api", url.Values{}, &result); err != nil {
		return "", err
	}
	if result.UserID == 0 {
		return "", fmt.Errorf("query-api: empty userID in response")
	}
	return strconv.Itoa(result.UserID), nil
}

func (g *BybitGateway) GetWalletBalance(ctx context.Context, coin string) (float64, error) {
	query := url.Values{}
	query.Set("accountType", accountType)
	query.Set("coin", coin)

	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := g.get(ctx, "wallet-balance", "/v5/account/wallet-balance", query, &result); err != nil {
		return 0, err
	}
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin == coin {
				bal, err := strconv.ParseFloat(c.WalletBalance, 64)
				if err != nil {
					return 0, fmt.Errorf("wallet-balance: parse %q: %w", c.WalletBalance, err)
				}
				return bal, nil
			}
		}
	}
	return 0, nil
}

func (g *BybitGateway) GetTransferableAmount(ctx context.Context, coins []string) (map[string]string, error) {
	query := url.Values{}
	query.Set("coinName", strings.Join(coins, ","))

	var result struct {
		AvailableWithdrawal    string            `json:"availableWithdrawal"`
		AvailableWithdrawalMap map[string]string `json:"availableWithdrawalMap"`
	}
	if err := g.get(ctx, "transferable-amount", "/v5/account/withdrawal", query, &result); err != nil {
		return nil, err
	}
	if len(result.AvailableWithdrawalMap) > 0 {
		return result.AvailableWithdrawalMap, nil
	}
	out := make(map[string]string, 1)
	if len(coins) > 0 {
		out[coins[0]] = result.AvailableWithdrawal
	}
	return out, nil
}

func (g *BybitGateway) TransferFunds(ctx context.Context, transferID, fromUID, toUID string, amount float64, coin string) (string, error) {
	payload := map[string]interface{}{
		"transferId":      transferID,
		"coin":            coin,
		"amount":          strconv.FormatFloat(amount, 'f', 2, 64),
		"fromMemberId":    fromUID,
		"toMemberId":      toUID,
		"fromAccountType": accountType,
		"toAccountType":   accountType,
	}
	var result struct {
		TransferID string `json:"transferId"`
		Status     string `json:"status"`
	}
	if err := g.post(ctx, "universal-transfer", "/v5/asset/transfer/universal-transfer", payload, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (g *BybitGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	payload := orderPayload(req)
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := g.post(ctx, "order-create", "/v5/order/create", payload, &result); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

func (g *BybitGateway) PlaceBatchOrders(ctx context.Context, category string, reqs []domain.OrderRequest) ([]string, error) {
	request := make([]map[string]interface{}, 0, len(reqs))
	for _, r := range reqs {
		p := orderPayload(r)
		delete(p, "category")
		request = append(request, p)
	}
	payload := map[string]interface{}{
		"category": category,
		"request":  request,
	}
	var result struct {
		List []struct {
			OrderID string `json:"orderId"`
		} `json:"list"`
	}
	if err := g.post(ctx, "order-create-batch", "/v5/order/create-batch", payload, &result); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.List))
	for _, item := range result.List {
		ids = append(ids, item.OrderID)
	}
	return ids, nil
}

func orderPayload(req domain.OrderRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"category":  req.Category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": req.OrderType,
		"qty":       strconv.FormatFloat(req.Qty, 'f', -1, 64),
	}
	if req.Price > 0 {
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.StopLoss > 0 {
		payload["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TimeInForce != "" {
		payload["timeInForce"] = req.TimeInForce
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = true
	}
	if req.MarketUnit != "" {
		payload["marketUnit"] = req.MarketUnit
	}
	return payload
}

func (g *BybitGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	return g.post(ctx, "set-leverage", "/v5/position/set-leverage", payload, nil)
}

func (g *BybitGateway) SetMarginMode(ctx context.Context, symbol, marginType string, leverage int) error {
	// 0: cross margin, 1: isolated margin
	mode := 0
	if marginType == "isolated" {
		mode = 1
	}
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"tradeMode":    mode,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	return g.post(ctx, "switch-mode", "/v5/position/switch-mode", payload, nil)
}

func (g *BybitGateway) CancelAllOrders(ctx context.Context, symbol, category string) error {
	payload := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}
	return g.post(ctx, "cancel-all", "/v5/order/cancel-all", payload, nil)
}

func (g *BybitGateway) GetPositionInfo(ctx context.Context, symbol, category string) (*domain.Position, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			TradeMode     int    `json:"tradeMode"`
			PositionIdx   int    `json:"positionIdx"`
		} `json:"list"`
	}
	if err := g.get(ctx, "position-list", "/v5/position/list", query, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, nil
	}

	raw := result.List[0]
	size, _ := strconv.ParseFloat(raw.Size, 64)
	if size == 0 {
		return nil, nil
	}
	entry, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	mark, _ := strconv.ParseFloat(raw.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(raw.UnrealisedPnl, 64)
	lev, _ := strconv.Atoi(raw.Leverage)

	marginType := "cross"
	if raw.TradeMode == 1 {
		marginType = "isolated"
	}

	return &domain.Position{
		Symbol:        raw.Symbol,
		Side:          domain.Side(raw.Side),
		Size:          size,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnL: pnl,
		Leverage:      lev,
		MarginType:    marginType,
		PositionIdx:   raw.PositionIdx,
	}, nil
}

func (g *BybitGateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := g.get(ctx, "tickers", "/v5/market/tickers", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("tickers: symbol %s not found", symbol)
	}
	return strconv.ParseFloat(result.List[0].LastPrice, 64)
}

func (g *BybitGateway) AmendStopLoss(ctx context.Context, symbol, orderID string, stopLoss float64) error {
	payload := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
		"stopLoss": strconv.FormatFloat(stopLoss, 'f', -1, 64),
	}
	return g.post(ctx, "order-amend", "/v5/order/amend", payload, nil)
}

func (g *BybitGateway) SetTradingStop(ctx context.Context, symbol string, positionIdx int, stopLoss float64) error {
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"positionIdx": positionIdx,
		"stopLoss":    strconv.FormatFloat(stopLoss, 'f', -1, 64),
		"tpslMode":    "Full",
	}
	return g.post(ctx, "trading-stop", "/v5/position/trading-stop", payload, nil)
}

func (g *BybitGateway) GetInstrumentInfo(ctx context.Context, symbol, category string) (*domain.Instrument, error) {
	query := url.Values{}
	query.Set("category", category)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := g.get(ctx, "instruments-info", "/v5/market/instruments-info", query, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, nil
	}

	raw := result.List[0]
	minQty, _ := strconv.ParseFloat(raw.LotSizeFilter.MinOrderQty, 64)
	step, _ := strconv.ParseFloat(raw.LotSizeFilter.QtyStep, 64)
	return &domain.Instrument{
		Symbol:      raw.Symbol,
		BaseCoin:    raw.BaseCoin,
		QuoteCoin:   raw.QuoteCoin,
		Status:      raw.Status,
		MinOrderQty: minQty,
		QtyStep:     step,
	}, nil
}
