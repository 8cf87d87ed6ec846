package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/managerapi/handlers/dto"
	"github.com/thrillee/smppgateway/internal/sms"
)

// MessageService is the part of the SMS processor the API drives.
type MessageService interface {
	EnqueueSend(ctx context.Context, req sms.SendRequest) (sms.EnqueueResult, error)
	EnqueueBulk(ctx context.Context, reqs []sms.SendRequest) []sms.BulkResult
	QueryStatus(ctx context.Context, messageID string) (sms.QueryResult, error)
	Resubmit(ctx context.Context, messageID string) (sms.EnqueueResult, error)
}

type MessageHandler struct {
	dbQueries database.Querier
	service   MessageService
}

func NewMessageHandler(q database.Querier, service MessageService) *MessageHandler {
	return &MessageHandler{dbQueries: q, service: service}
}

// SendMessage handles POST /messages
func (h *MessageHandler) SendMessage(c *gin.Context) {
	logCtx := c.Request.Context()
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.service.EnqueueSend(logCtx, req.ToSendRequest())
	if err != nil {
		respondError(c, logCtx, "send message", err)
		return
	}
	slog.InfoContext(logging.ContextWithMessageID(logCtx, res.MessageID), "Message accepted",
		slog.String("configuration", res.ConfigurationName))
	c.JSON(http.StatusAccepted, res)
}

// SendBulk handles POST /messages/bulk. Entries are accepted or rejected
// individually; the answer is 207 unless every entry shared one outcome.
func (h *MessageHandler) SendBulk(c *gin.Context) {
	logCtx := c.Request.Context()
	var req dto.BulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	reqs := make([]sms.SendRequest, len(req.Messages))
	for i, m := range req.Messages {
		reqs[i] = m.ToSendRequest()
	}

	resp := dto.BulkSendResponse{Results: make([]dto.BulkItemResponse, 0, len(reqs))}
	for _, r := range h.service.EnqueueBulk(logCtx, reqs) {
		item := dto.BulkItemResponse{Index: r.Index}
		if r.Err != nil {
			_, body := errorBody(r.Err)
			item.Error = &body
			resp.Rejected++
		} else {
			res := r.Result
			item.Message = &res
			resp.Accepted++
		}
		resp.Results = append(resp.Results, item)
	}
	slog.InfoContext(logCtx, "Bulk request processed",
		slog.Int("accepted", resp.Accepted), slog.Int("rejected", resp.Rejected))

	status := http.StatusMultiStatus
	switch {
	case resp.Rejected == 0:
		status = http.StatusAccepted
	case resp.Accepted == 0:
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}

// ListMessages handles GET /messages?status=&limit=&offset=
func (h *MessageHandler) ListMessages(c *gin.Context) {
	logCtx := c.Request.Context()
	limit, offset := parsePagination(c)

	var statusFilter *string
	if s := strings.ToLower(strings.TrimSpace(c.Query("status"))); s != "" {
		statusFilter = &s
	}

	counts, err := h.dbQueries.CountMessagesByStatus(logCtx)
	if err != nil {
		respondError(c, logCtx, "count messages", err)
		return
	}
	var total int64
	for _, sc := range counts {
		if statusFilter == nil || sc.Status == *statusFilter {
			total += sc.Count
		}
	}
	if total == 0 {
		c.JSON(http.StatusOK, dto.PaginatedListResponse{Data: []database.Message{}, Pagination: dto.PaginationResponse{Total: 0, Limit: limit, Offset: offset}})
		return
	}

	messages, err := h.dbQueries.ListMessages(logCtx, database.ListMessagesParams{
		Status: statusFilter,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, logCtx, "list messages", err)
		return
	}
	if messages == nil {
		messages = []database.Message{}
	}
	c.JSON(http.StatusOK, dto.PaginatedListResponse{
		Data:       messages,
		Pagination: dto.PaginationResponse{Total: total, Limit: limit, Offset: offset},
	})
}

// GetMessage handles GET /messages/:id
func (h *MessageHandler) GetMessage(c *gin.Context) {
	id := c.Param("id")
	logCtx := logging.ContextWithMessageID(c.Request.Context(), id)

	msg, err := h.dbQueries.GetMessage(logCtx, id)
	if err != nil {
		respondError(c, logCtx, "get message", err)
		return
	}
	resp := dto.MessageDetailResponse{Message: msg, Receipts: []database.DeliveryReceipt{}}

	entry, err := h.dbQueries.GetLatestQueueEntryForMessage(logCtx, id)
	switch {
	case err == nil:
		resp.QueueEntry = &entry
	case !errors.Is(err, database.ErrNotFound):
		respondError(c, logCtx, "get queue entry", err)
		return
	}

	receipts, err := h.dbQueries.ListReceiptsForMessage(logCtx, id)
	if err != nil {
		respondError(c, logCtx, "list receipts", err)
		return
	}
	if len(receipts) > 0 {
		resp.Receipts = receipts
	}
	c.JSON(http.StatusOK, resp)
}

// QueryMessage handles POST /messages/:id/query. It asks the SMSC for the
// message state and applies a final answer.
func (h *MessageHandler) QueryMessage(c *gin.Context) {
	id := c.Param("id")
	logCtx := logging.ContextWithMessageID(c.Request.Context(), id)

	res, err := h.service.QueryStatus(logCtx, id)
	if err != nil {
		respondError(c, logCtx, "query message", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResubmitMessage handles POST /messages/:id/resubmit
func (h *MessageHandler) ResubmitMessage(c *gin.Context) {
	id := c.Param("id")
	logCtx := logging.ContextWithMessageID(c.Request.Context(), id)

	res, err := h.service.Resubmit(logCtx, id)
	if err != nil {
		respondError(c, logCtx, "resubmit message", err)
		return
	}
	slog.InfoContext(logCtx, "Message resubmitted", slog.Int64("queue_entry_id", res.QueueEntryID))
	c.JSON(http.StatusAccepted, res)
}

// Stats handles GET /stats
func (h *MessageHandler) Stats(c *gin.Context) {
	logCtx := c.Request.Context()

	msgCounts, err := h.dbQueries.CountMessagesByStatus(logCtx)
	if err != nil {
		respondError(c, logCtx, "count messages", err)
		return
	}
	queueCounts, err := h.dbQueries.CountQueueEntriesByStatus(logCtx)
	if err != nil {
		respondError(c, logCtx, "count queue entries", err)
		return
	}

	resp := dto.MessageStatsResponse{
		Messages: make(map[string]int64, len(msgCounts)),
		Queue:    make(map[string]int64, len(queueCounts)),
	}
	for _, sc := range msgCounts {
		resp.Messages[sc.Status] = sc.Count
	}
	for _, sc := range queueCounts {
		resp.Queue[sc.Status] = sc.Count
	}
	c.JSON(http.StatusOK, resp)
}
