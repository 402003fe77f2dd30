package account

import (
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/exchange"
)

func InitializeRoutes(app *fiber.App, ex *exchange.Exchange) {
	app.Post("/v1/accounts/:id/deposit", DepositHandler(ex))
	app.Get("/v1/accounts/:id/balances", GetBalancesHandler(ex))
}
