package market

import (
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/exchange"
	"github.com/exsim/exchange/internal/helper"
)

func GetBookHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		symbol := c.Params("symbol")
		if symbol == "" {
			return fiber.ErrBadRequest
		}

		depth := helper.QueryInt(c, "depth", 0)
		snapshot, err := ex.GetBook(c.RequestCtx(), symbol, depth)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		return c.JSON(snapshot)
	}
}

func GetTradesHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		symbol := c.Params("symbol")
		if symbol == "" {
			return fiber.ErrBadRequest
		}

		limit := helper.QueryInt(c, "limit", 100)
		trades, err := ex.GetTrades(c.RequestCtx(), symbol, limit)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		return c.JSON(trades)
	}
}
