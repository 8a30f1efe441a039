package transport

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"go.uber.org/zap"
)

func TestErrorHandlerStatusMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "fiber error keeps its code", err: fiber.NewError(fiber.StatusTeapot, "teapot"), wantStatus: fiber.StatusTeapot},
		{name: "validation maps to 400", err: fmt.Errorf("%w: bad kind", domain.ErrValidation), wantStatus: fiber.StatusBadRequest},
		{name: "empty batch maps to 400", err: domain.ErrEmptyBatch, wantStatus: fiber.StatusBadRequest},
		{name: "not found maps to 404", err: fmt.Errorf("%w: n1", domain.ErrNotFound), wantStatus: fiber.StatusNotFound},
		{name: "missing provider maps to 422", err: fmt.Errorf("%w: application crm", domain.ErrNoProvider), wantStatus: fiber.StatusUnprocessableEntity},
		{name: "unknown error maps to 500", err: fmt.Errorf("boom"), wantStatus: fiber.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
			app.Get("/fail", func(c *fiber.Ctx) error {
				return tc.err
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}
