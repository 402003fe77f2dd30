package helper

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/exsim/exchange/internal/core"
)

type Pagination[T any] struct {
	Page  int  `json:"page"`
	Size  int  `json:"size"`
	Total *int `json:"total"`
	Items []T  `json:"items"`
}

func GetPagination[T any](c fiber.Ctx) Pagination[T] {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	size, _ := strconv.Atoi(c.Query("size", "50"))
	if size < 1 {
		size = 1
	} else if size > 100 {
		size = 100
	}

	return Pagination[T]{
		Page:  page,
		Size:  size,
		Total: nil,
		Items: []T{},
	}
}

var validate = validator.New()

func ValidateInput(input interface{}) error {
	return validate.Struct(input)
}

// QueryInt reads an integer query parameter with a fallback.
func QueryInt(c fiber.Ctx, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// ErrorResponse maps core error kinds onto HTTP statuses.
func ErrorResponse(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidOrderParameters):
		status = fiber.StatusBadRequest
	case errors.Is(err, core.ErrInsufficientBalance):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, core.ErrOrderNotFound), errors.Is(err, core.ErrSymbolNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, core.ErrNotCancellable):
		status = fiber.StatusConflict
	case errors.Is(err, core.ErrNoLiquidity):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, core.ErrStorageUnavailable):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
