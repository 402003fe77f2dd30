package market

import (
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/exchange"
)

func InitializeRoutes(app *fiber.App, ex *exchange.Exchange) {
	app.Get("/v1/market/:symbol/book", GetBookHandler(ex))
	app.Get("/v1/market/:symbol/trades", GetTradesHandler(ex))
}
