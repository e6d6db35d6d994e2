/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	huberrors "github.com/messagehub-project/messagehub/internal/errors"
	"github.com/messagehub-project/messagehub/internal/middleware"
	"github.com/messagehub-project/messagehub/internal/processing"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
)

// handlePing handles GET /ping
func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "Service is alive")
}

// requestTenant pulls the tenant resolved by the auth middleware. A miss
// means the route was wired without TenantAuth; answer the way the
// middleware would.
func (s *Server) requestTenant(c *gin.Context) (*tenant.Tenant, bool) {
	owner, ok := middleware.TenantFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
	}
	return owner, ok
}

// respondWithServiceError translates processor errors into API errors.
// Validation failures map to 400, unknown messages to 404, everything
// else is an internal error.
func (s *Server) respondWithServiceError(c *gin.Context, messageID string, err error) {
	var validationErr *processing.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.respondWithHubError(c, huberrors.NewValidationError("Request validation failed",
			map[string]interface{}{
				"validation_error": validationErr.Reason,
			}))
	case errors.Is(err, storage.ErrNotFound):
		s.respondWithHubError(c, huberrors.NewMessageNotFoundError(messageID))
	default:
		s.respondWithHubError(c, huberrors.NewInternalError("Message processing failed", err))
	}
}

// handleSendMessage handles POST /api/message
func (s *Server) handleSendMessage(c *gin.Context) {
	owner, ok := s.requestTenant(c)
	if !ok {
		return
	}

	var req types.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST_FORMAT",
			"Invalid request format", map[string]interface{}{
				"parse_error": err.Error(),
			})
		return
	}

	response, err := s.processor.SubmitMessage(c.Request.Context(), owner, &req)
	if err != nil {
		s.respondWithServiceError(c, "", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// handleSendBatch handles POST /api/messages
func (s *Server) handleSendBatch(c *gin.Context) {
	owner, ok := s.requestTenant(c)
	if !ok {
		return
	}

	var req types.BatchSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST_FORMAT",
			"Invalid request format", map[string]interface{}{
				"parse_error": err.Error(),
			})
		return
	}

	// Individual item failures land in the per-item results; the batch as
	// a whole still answers 200.
	response, err := s.processor.SubmitBatch(c.Request.Context(), owner, &req)
	if err != nil {
		s.respondWithServiceError(c, "", err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// handleGetMessageStatus handles GET /api/messages/:messageId/status
func (s *Server) handleGetMessageStatus(c *gin.Context) {
	owner, ok := s.requestTenant(c)
	if !ok {
		return
	}

	messageID := c.Param("messageId")

	// Validate message ID format
	if err := s.validator.ValidateMessageID(messageID); err != nil {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_MESSAGE_ID",
			"Invalid message ID format", nil)
		return
	}

	status, err := s.processor.GetMessageStatus(c.Request.Context(), owner, messageID)
	if err != nil {
		s.respondWithServiceError(c, messageID, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleGetHistory handles GET /api/messages/history
func (s *Server) handleGetHistory(c *gin.Context) {
	owner, ok := s.requestTenant(c)
	if !ok {
		return
	}

	limitStr := c.DefaultQuery("limit", strconv.Itoa(processing.DefaultHistoryLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > processing.MaxHistoryLimit {
		s.respondWithError(c, http.StatusBadRequest, "INVALID_LIMIT",
			fmt.Sprintf("Limit must be between 1 and %d", processing.MaxHistoryLimit), nil)
		return
	}

	history, err := s.processor.GetHistory(c.Request.Context(), owner, limit, c.Query("status"))
	if err != nil {
		s.respondWithServiceError(c, "", err)
		return
	}

	c.JSON(http.StatusOK, history)
}
