package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Trading: Trading{
			MaxInvestment:        1000000,
			TargetProfitRate:     0.01,
			EnableStopLoss:       true,
			StopLossRate:         -0.025,
			StopLossDelayMinutes: 1,

			BuyOrderType:        BuyOrderTypeMarket,
			BuyExecutionTimeout: 30,
			BuyCheckInterval:    5,
			BuyStartTime:        "09:00",
			BuyEndTime:          "09:10",

			EnableDailyForceSell: true,
			DailyForceSellTime:   "15:19",

			OutstandingCheckTimeout:  30,
			OutstandingCheckInterval: 5,

			BalanceCheckInterval: 0,
			BackupPollInterval:   10,
		},
	}
}

func TestLoadConfig(t *testing.T) {
	// Arrange: a config file with a few overrides on top of the defaults.
	dir := t.TempDir()
	content := `
kiwoom:
  app_key: "test-app-key"
  secret_key: "test-secret-key"
telegram:
  bot_token: "123456:abcdef"
  source_chat: "@stock_picks"
trading:
  max_investment: 500000
  buy_order_type: "limit_plus_one_tick"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o644))

	// Act
	cfg, err := LoadConfig(dir)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "test-app-key", cfg.Kiwoom.AppKey)
	assert.Equal(t, "@stock_picks", cfg.Telegram.SourceChat)
	assert.Equal(t, int64(500000), cfg.Trading.MaxInvestment)
	assert.Equal(t, BuyOrderTypeLimitPlusOneTick, cfg.Trading.BuyOrderType)

	// Defaults fill everything the file leaves out.
	assert.Equal(t, "https://api.kiwoom.com", cfg.Kiwoom.BaseURL)
	assert.Equal(t, float64(5), cfg.Kiwoom.RateLimit)
	assert.Equal(t, "09:00", cfg.Trading.BuyStartTime)
	assert.Equal(t, "09:10", cfg.Trading.BuyEndTime)
	assert.Equal(t, "15:19", cfg.Trading.DailyForceSellTime)
	assert.Equal(t, 0.01, cfg.Trading.TargetProfitRate)
	assert.Equal(t, -0.025, cfg.Trading.StopLossRate)
	assert.Equal(t, 8080, cfg.Server.Port)

	// The defaults must themselves form a runnable configuration.
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "Valid baseline",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "Zero investment",
			mutate:  func(c *Config) { c.Trading.MaxInvestment = 0 },
			wantErr: "max_investment",
		},
		{
			name:    "Zero target profit",
			mutate:  func(c *Config) { c.Trading.TargetProfitRate = 0 },
			wantErr: "target_profit_rate",
		},
		{
			name:    "Positive stop loss rate",
			mutate:  func(c *Config) { c.Trading.StopLossRate = 0.01 },
			wantErr: "stop_loss_rate",
		},
		{
			name: "Stop loss disabled ignores the rate",
			mutate: func(c *Config) {
				c.Trading.EnableStopLoss = false
				c.Trading.StopLossRate = 0.01
			},
			wantErr: "",
		},
		{
			name:    "Unknown buy order type",
			mutate:  func(c *Config) { c.Trading.BuyOrderType = "iceberg" },
			wantErr: "buy_order_type",
		},
		{
			name:    "Zero buy execution timeout",
			mutate:  func(c *Config) { c.Trading.BuyExecutionTimeout = 0 },
			wantErr: "buy_execution_timeout",
		},
		{
			name:    "Negative balance check interval",
			mutate:  func(c *Config) { c.Trading.BalanceCheckInterval = -1 },
			wantErr: "balance_check_interval",
		},
		{
			name:    "Malformed window start",
			mutate:  func(c *Config) { c.Trading.BuyStartTime = "9am" },
			wantErr: "buy_start_time",
		},
		{
			name: "Window closed before it opens",
			mutate: func(c *Config) {
				c.Trading.BuyStartTime = "09:10"
				c.Trading.BuyEndTime = "09:00"
			},
			wantErr: "must be before",
		},
		{
			name:    "Malformed force sell time",
			mutate:  func(c *Config) { c.Trading.DailyForceSellTime = "25:00" },
			wantErr: "daily_force_sell_time",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
