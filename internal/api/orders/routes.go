package orders

import (
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/exchange"
)

func InitializeRoutes(app *fiber.App, ex *exchange.Exchange) {
	app.Post("/v1/orders", PlaceOrderHandler(ex))
	app.Post("/v1/orders/:id/cancel", CancelOrderHandler(ex))
	app.Get("/v1/orders", GetOpenOrdersHandler(ex))
}
