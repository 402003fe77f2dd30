package account

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/exsim/exchange/internal/exchange"
	"github.com/exsim/exchange/internal/helper"
)

func DepositHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		accountId, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.ErrBadRequest
		}

		var deposit = DepositSchema{}
		if err := c.Bind().Body(&deposit); err != nil {
			return fiber.ErrBadRequest
		}
		if err := helper.ValidateInput(&deposit); err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		if err := ex.Deposit(c.RequestCtx(), accountId, deposit.Asset, *deposit.Amount); err != nil {
			return helper.ErrorResponse(c, err)
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func GetBalancesHandler(ex *exchange.Exchange) fiber.Handler {
	return func(c fiber.Ctx) error {
		accountId, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.ErrBadRequest
		}

		balances, err := ex.GetBalances(c.RequestCtx(), accountId)
		if err != nil {
			return helper.ErrorResponse(c, err)
		}

		views := make([]BalanceView, 0, len(balances))
		for asset, bal := range balances {
			views = append(views, BalanceView{
				Asset:     asset,
				Available: bal.Available,
				Locked:    bal.Locked,
			})
		}
		sort.Slice(views, func(i, j int) bool {
			return views[i].Asset < views[j].Asset
		})

		return c.JSON(BalancesResponseSchema{
			AccountId: accountId.String(),
			Balances:  views,
		})
	}
}
