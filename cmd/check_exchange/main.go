package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/exchange"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Check struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"check"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)
	if len(cfg.Check.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Check.APIKey[:4])
	}

	gw := exchange.NewBybitGateway(domain.Credentials{
		APIKey:    cfg.Check.APIKey,
		APISecret: cfg.Check.APISecret,
	}, cfg.Exchange.RESTEndpoint)
	ctx := context.Background()

	// 2. Check Public Endpoint (Price)
	price, err := gw.GetCurrentPrice(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (BTCUSDT): %f\n", price)
	}

	// 3. Check Private Endpoint (UID + Balance)
	uid, err := gw.GetAccountUID(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get account UID: %v\n", err)
	} else {
		fmt.Printf("✅ Account UID: %s\n", uid)
	}

	balance, err := gw.GetWalletBalance(ctx, "USDT")
	if err != nil {
		fmt.Printf("❌ Failed to get wallet balance: %v\n", err)
	} else {
		fmt.Printf("✅ Wallet Balance (USDT): %f\n", balance)
	}

	transferable, err := gw.GetTransferableAmount(ctx, []string{"USDT"})
	if err != nil {
		fmt.Printf("❌ Failed to get transferable amount: %v\n", err)
	} else {
		fmt.Printf("✅ Transferable (USDT): %s\n", transferable["USDT"])
	}

	// 4. Check Position Endpoint
	pos, err := gw.GetPositionInfo(ctx, "BTCUSDT", "linear")
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else if pos == nil {
		fmt.Printf("✅ Position (BTCUSDT): none\n")
	} else {
		fmt.Printf("✅ Position (BTCUSDT): Size=%f, Side=%s, Entry=%f, PnL=%f\n",
			pos.Size, pos.Side, pos.EntryPrice, pos.UnrealizedPnL)
	}
}
