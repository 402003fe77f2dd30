package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/api/account"
	"github.com/exsim/exchange/internal/api/market"
	"github.com/exsim/exchange/internal/api/orders"
	"github.com/exsim/exchange/internal/exchange"
)

func InitializeRoutes(app *fiber.App, ex *exchange.Exchange) {
	account.InitializeRoutes(app, ex)
	orders.InitializeRoutes(app, ex)
	market.InitializeRoutes(app, ex)
}
