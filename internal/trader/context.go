package trader

import (
	"go.uber.org/zap"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/kiwoom"
)

// TradingContext provides the lifecycle components with access to the core
// dependencies.
type TradingContext struct {
	Logger  *zap.Logger
	Cfg     *config.Config
	Gateway kiwoom.Gateway
}
