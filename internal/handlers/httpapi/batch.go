package httpapi

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

// batchResponse is the batch-trigger reply mirrored back to the scheduler.
type batchResponse struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	TotalProcessed int           `json:"totalProcessed"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Batches        []batchDetail `json:"batches"`
}

type batchDetail struct {
	Source string `json:"source"`
	Size   int    `json:"size"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// requireQStashSignature verifies the upstash-signature header against the
// current and next signing keys. Local requests bypass verification so the
// run can be triggered by hand during incidents.
func (s *server) requireQStashSignature() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ip := net.ParseIP(c.IP()); ip != nil && ip.IsLoopback() {
			return c.Next()
		}

		signature := c.Get("upstash-signature")
		if signature == "" {
			return c.Status(http.StatusUnauthorized).JSON(batchResponse{
				Success: false,
				Error:   "missing trigger signature",
			})
		}

		keys := []string{s.cfg.QStashCurrentSigningKey, s.cfg.QStashNextSigningKey}
		if !verifySignature(signature, c.Body(), keys) {
			logger.Warn(c.UserContext(), "rejected batch trigger with invalid signature", "ip", c.IP())
			return c.Status(http.StatusUnauthorized).JSON(batchResponse{
				Success: false,
				Error:   "invalid trigger signature",
			})
		}

		return c.Next()
	}
}

// signatureClaims is the QStash signature payload; Body carries the
// base64url-encoded SHA-256 of the request body.
type signatureClaims struct {
	jwt.RegisteredClaims

	Body string `json:"body"`
}

// verifySignature checks the signature JWT against each key in turn and
// matches its body digest against the actual request body.
func verifySignature(signature string, body []byte, keys []string) bool {
	digest := sha256.Sum256(body)
	expected := base64.URLEncoding.EncodeToString(digest[:])

	for _, key := range keys {
		if key == "" {
			continue
		}

		var claims signatureClaims
		_, err := jwt.ParseWithClaims(signature, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return []byte(key), nil
		})
		if err != nil {
			continue
		}
		if claims.Body == expected {
			return true
		}
	}

	return false
}

// handleProcessBatch runs one retry-queue drain and reports the outcome.
func (s *server) handleProcessBatch(c *fiber.Ctx) error {
	report, err := s.batch.Run(c.UserContext())
	if errors.Is(err, batchproc.ErrRunInProgress) {
		return c.Status(http.StatusConflict).JSON(batchResponse{
			Success: false,
			Error:   err.Error(),
		})
	}
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(batchResponse{
			Success: false,
			Error:   err.Error(),
		})
	}

	details := make([]batchDetail, len(report.Batches))
	for i, batch := range report.Batches {
		details[i] = batchDetail{
			Source: string(batch.Source),
			Size:   batch.Size,
			TxHash: batch.TxHash,
			Error:  batch.Error,
		}
	}

	return c.JSON(batchResponse{
		Success:        true,
		TotalProcessed: report.TotalProcessed,
		Successful:     report.Successful,
		Failed:         report.Failed,
		Batches:        details,
	})
}
