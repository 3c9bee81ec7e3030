package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
)

func (s *Server) handleSupported(c *fiber.Ctx) error {
	return c.JSON(s.fac.Supported())
}

func (s *Server) handleVerify(c *fiber.Ctx) error {
	var req types.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}

	result, err := s.fac.Verify(c.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		return s.serviceError(c, "verify", err)
	}
	return c.JSON(result)
}

func (s *Server) handleSettle(c *fiber.Ctx) error {
	var req types.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}

	result, err := s.fac.Settle(c.Context(), &req.PaymentPayload, &req.PaymentRequirements)
	if err != nil {
		return s.serviceError(c, "settle", err)
	}
	return c.JSON(result)
}

func (s *Server) handleFeeQuote(c *fiber.Ctx) error {
	var req types.FeeQuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed request body")
	}

	quote, err := s.fac.FeeQuote(&req.Accept, req.PaymentPermitContext)
	if err != nil {
		var x402Err *types.X402Error
		if errors.As(err, &x402Err) && x402Err.Code == types.ErrUnsupportedNetwork {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": x402Err.Code})
		}
		return s.serviceError(c, "fee_quote", err)
	}
	return c.JSON(quote)
}

func (s *Server) handlePayment(c *fiber.Ctx) error {
	record, err := s.fac.Payment(c.Context(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "Payment not found"})
	}
	if err != nil {
		return s.serviceError(c, "payment_lookup", err)
	}
	return c.JSON(record)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// serviceError maps infrastructure failures to 503 so callers can tell a
// rejected payment from an unavailable facilitator.
func (s *Server) serviceError(c *fiber.Ctx, op string, err error) error {
	s.log.Error("request failed", map[string]any{
		"operation": op,
		"requestID": c.Locals("requestID"),
		"error":     err.Error(),
	})

	status := fiber.StatusInternalServerError
	code := "internal_error"
	var x402Err *types.X402Error
	if errors.As(err, &x402Err) {
		code = x402Err.Code
		if x402Err.Code == types.ErrPersistenceUnavailable {
			status = fiber.StatusServiceUnavailable
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
