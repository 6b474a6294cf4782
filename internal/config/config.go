package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Kiwoom   Kiwoom   `mapstructure:"kiwoom"`
	Telegram Telegram `mapstructure:"telegram"`
	Trading  Trading  `mapstructure:"trading"`
	Storage  Storage  `mapstructure:"storage"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Kiwoom holds the configuration for the Kiwoom REST and WebSocket APIs.
type Kiwoom struct {
	BaseURL        string  `mapstructure:"base_url"`
	WsURL          string  `mapstructure:"ws_url"`
	AppKey         string  `mapstructure:"app_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	AccountNo      string  `mapstructure:"account_no"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Telegram holds the configuration for the signal channel and notifications.
type Telegram struct {
	BotToken    string `mapstructure:"bot_token"`
	SourceChat  string `mapstructure:"source_chat"`
	TargetChat  string `mapstructure:"target_chat"`
	PollTimeout int    `mapstructure:"poll_timeout"`
}

// Trading holds the configuration for the position lifecycle.
type Trading struct {
	MaxInvestment        int64   `mapstructure:"max_investment"`
	TargetProfitRate     float64 `mapstructure:"target_profit_rate"`
	EnableStopLoss       bool    `mapstructure:"enable_stop_loss"`
	StopLossRate         float64 `mapstructure:"stop_loss_rate"`
	StopLossDelayMinutes int     `mapstructure:"stop_loss_delay_minutes"`

	BuyOrderType        string `mapstructure:"buy_order_type"` // "market" or "limit_plus_one_tick"
	BuyExecutionTimeout int    `mapstructure:"buy_execution_timeout"`
	BuyCheckInterval    int    `mapstructure:"buy_check_interval"`
	BuyFallbackToMarket bool   `mapstructure:"buy_fallback_to_market"`
	BuyStartTime        string `mapstructure:"buy_start_time"`
	BuyEndTime          string `mapstructure:"buy_end_time"`

	EnableDailyForceSell bool   `mapstructure:"enable_daily_force_sell"`
	DailyForceSellTime   string `mapstructure:"daily_force_sell_time"`

	OutstandingCheckTimeout    int  `mapstructure:"outstanding_check_timeout"`
	OutstandingCheckInterval   int  `mapstructure:"outstanding_check_interval"`
	CancelOutstandingOnFailure bool `mapstructure:"cancel_outstanding_on_failure"`

	BalanceCheckInterval int `mapstructure:"balance_check_interval"` // seconds, 0 disables
	BackupPollInterval   int `mapstructure:"backup_poll_interval"`
}

// Storage holds the file paths for the lock record and audit output.
type Storage struct {
	LockFile   string `mapstructure:"lock_file"`
	ResultsDir string `mapstructure:"results_dir"`
}

// Server holds the ports for the status API and the results viewer.
type Server struct {
	Port   int `mapstructure:"port"`
	UIPort int `mapstructure:"ui_port"`
}

// Database holds the configuration for the trade history database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Buy order types accepted by trading.buy_order_type.
const (
	BuyOrderTypeMarket           = "market"
	BuyOrderTypeLimitPlusOneTick = "limit_plus_one_tick"
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("kiwoom.base_url", "https://api.kiwoom.com")
	viper.SetDefault("kiwoom.ws_url", "wss://api.kiwoom.com:10000/api/dostk/websocket")
	viper.SetDefault("kiwoom.rate_limit", 5) // requests per second
	viper.SetDefault("kiwoom.rate_limit_burst", 2)
	viper.SetDefault("telegram.poll_timeout", 30)
	viper.SetDefault("trading.max_investment", 1000000)
	viper.SetDefault("trading.target_profit_rate", 0.01)
	viper.SetDefault("trading.enable_stop_loss", true)
	viper.SetDefault("trading.stop_loss_rate", -0.025)
	viper.SetDefault("trading.stop_loss_delay_minutes", 1)
	viper.SetDefault("trading.buy_order_type", BuyOrderTypeMarket)
	viper.SetDefault("trading.buy_execution_timeout", 30)
	viper.SetDefault("trading.buy_check_interval", 5)
	viper.SetDefault("trading.buy_fallback_to_market", true)
	viper.SetDefault("trading.buy_start_time", "09:00")
	viper.SetDefault("trading.buy_end_time", "09:10")
	viper.SetDefault("trading.enable_daily_force_sell", true)
	viper.SetDefault("trading.daily_force_sell_time", "15:19")
	viper.SetDefault("trading.outstanding_check_timeout", 30)
	viper.SetDefault("trading.outstanding_check_interval", 5)
	viper.SetDefault("trading.cancel_outstanding_on_failure", true)
	viper.SetDefault("trading.balance_check_interval", 0)
	viper.SetDefault("trading.backup_poll_interval", 10)
	viper.SetDefault("storage.lock_file", "daily_trade_lock.json")
	viper.SetDefault("storage.results_dir", "trading_results")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.ui_port", 8081)
	viper.SetDefault("database.dsn", "trading.db")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

// Validate checks that the trading parameters form a runnable configuration.
func (c *Config) Validate() error {
	t := c.Trading
	if t.MaxInvestment <= 0 {
		return fmt.Errorf("trading.max_investment must be positive, got %d", t.MaxInvestment)
	}
	if t.TargetProfitRate <= 0 {
		return fmt.Errorf("trading.target_profit_rate must be positive, got %v", t.TargetProfitRate)
	}
	if t.EnableStopLoss && t.StopLossRate >= 0 {
		return fmt.Errorf("trading.stop_loss_rate must be negative, got %v", t.StopLossRate)
	}
	if t.StopLossDelayMinutes < 0 {
		return fmt.Errorf("trading.stop_loss_delay_minutes must not be negative, got %d", t.StopLossDelayMinutes)
	}
	if t.BuyOrderType != BuyOrderTypeMarket && t.BuyOrderType != BuyOrderTypeLimitPlusOneTick {
		return fmt.Errorf("trading.buy_order_type must be %q or %q, got %q",
			BuyOrderTypeMarket, BuyOrderTypeLimitPlusOneTick, t.BuyOrderType)
	}
	for _, v := range []struct {
		name  string
		value int
	}{
		{"trading.buy_execution_timeout", t.BuyExecutionTimeout},
		{"trading.buy_check_interval", t.BuyCheckInterval},
		{"trading.outstanding_check_timeout", t.OutstandingCheckTimeout},
		{"trading.outstanding_check_interval", t.OutstandingCheckInterval},
		{"trading.backup_poll_interval", t.BackupPollInterval},
	} {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", v.name, v.value)
		}
	}
	if t.BalanceCheckInterval < 0 {
		return fmt.Errorf("trading.balance_check_interval must not be negative, got %d", t.BalanceCheckInterval)
	}

	start, err := parseClock(t.BuyStartTime)
	if err != nil {
		return fmt.Errorf("trading.buy_start_time: %w", err)
	}
	end, err := parseClock(t.BuyEndTime)
	if err != nil {
		return fmt.Errorf("trading.buy_end_time: %w", err)
	}
	if !start.Before(end) {
		return fmt.Errorf("trading.buy_start_time %q must be before trading.buy_end_time %q",
			t.BuyStartTime, t.BuyEndTime)
	}
	if _, err := parseClock(t.DailyForceSellTime); err != nil {
		return fmt.Errorf("trading.daily_force_sell_time: %w", err)
	}
	return nil
}

func parseClock(value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t, nil
}
