package orders

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/exsim/exchange/internal/core"
	"github.com/exsim/exchange/internal/exchange"
	"github.com/exsim/exchange/internal/helper"
)

func PlaceOrderHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		var order = PlaceOrderSchema{}
		if err := c.Bind().Body(&order); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&order); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		price := decimal.Zero
		if order.Price != nil {
			price = *order.Price
		}

		placement, err := ex.PlaceOrder(
			c.RequestCtx(),
			order.AccountId,
			order.Symbol,
			core.Side(order.Side),
			core.Kind(order.Kind),
			price,
			order.Quantity,
		)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(placement)
	}
}

func CancelOrderHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		orderId, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.ErrBadRequest
		}

		var cancel = CancelOrderSchema{}
		if err := c.Bind().Body(&cancel); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&cancel); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		cancelled, err := ex.CancelOrder(c.RequestCtx(), cancel.AccountId, orderId)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		return c.JSON(cancelled)
	}
}

func GetOpenOrdersHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		accountId, err := uuid.Parse(c.Query("account_id"))
		if err != nil {
			return fiber.ErrBadRequest
		}

		open, err := ex.GetOpenOrders(c.RequestCtx(), accountId)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		pagination := helper.GetPagination[core.Order](c)
		total := len(open)
		pagination.Total = &total

		start := (pagination.Page - 1) * pagination.Size
		if start < total {
			end := start + pagination.Size
			if end > total {
				end = total
			}
			pagination.Items = open[start:end]
		}

		return c.JSON(pagination)
	}
}
