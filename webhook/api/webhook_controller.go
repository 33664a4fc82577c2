package api

import (
	"io"
	"net/http"
	"strings"

	"smile-ai/backend/conversation/models"
	apperrors "smile-ai/backend/pkg/errors"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/webhook/service"

	"github.com/gin-gonic/gin"
)

// legacyProvider is the first path segment of the original single-channel route,
// POST /webhooks/twilio/whatsapp
const legacyProvider = "twilio"

// WebhookController exposes the channel webhooks over HTTP
type WebhookController struct {
	orchestrators map[string]*service.Orchestrator
	publicBaseURL string
	maxBodySize   int64
}

// NewWebhookController routes deliveries to the orchestrator of their channel.
// publicBaseURL, when set, replaces scheme and host of the URL used for
// signature checks.
func NewWebhookController(publicBaseURL string, maxBodySize int64, orchestrators ...*service.Orchestrator) *WebhookController {
	byName := make(map[string]*service.Orchestrator, len(orchestrators))
	for _, o := range orchestrators {
		byName[o.Channel().Name()] = o
	}
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookController{
		orchestrators: byName,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		maxBodySize:   maxBodySize,
	}
}

// RegisterRoutes registers
//
//	POST /webhooks/:channel/message  inbound messages
//	POST /webhooks/:channel/status   delivery receipts
//	POST /webhooks/twilio/whatsapp   legacy alias for whatsapp messages
func (c *WebhookController) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/:channel/:action", c.dispatch)
}

func (c *WebhookController) dispatch(ctx *gin.Context) {
	name, action := ctx.Param("channel"), ctx.Param("action")

	if name == legacyProvider && action == models.ChannelWhatsApp {
		c.handleMessage(ctx, models.ChannelWhatsApp)
		return
	}

	switch action {
	case "message":
		c.handleMessage(ctx, name)
	case "status":
		c.handleStatus(ctx, name)
	default:
		_ = ctx.Error(apperrors.NewNotFoundError("NOT_FOUND", "unknown webhook"))
		ctx.Abort()
	}
}

func (c *WebhookController) handleMessage(ctx *gin.Context, name string) {
	orch, ok := c.orchestrators[name]
	if !ok {
		c.unknownChannel(ctx, name)
		return
	}
	ch := orch.Channel()

	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxBodySize))
	if err != nil {
		// Oversized or truncated deliveries are acknowledged so the provider does not retry them.
		logger.FromGin(ctx).LogError(err, "Failed to read webhook body", "channel", name)
		contentType, ack := ch.Ack()
		ctx.Data(http.StatusOK, contentType, ack)
		return
	}

	resp := orch.Handle(ctx.Request.Context(), service.Request{
		Signature:   ctx.GetHeader(ch.SignatureHeader()),
		URL:         c.publicURL(ctx),
		ContentType: ctx.ContentType(),
		Body:        body,
	})

	if resp.Outcome == service.OutcomeRejected {
		// Written below; recorded so the request log carries the reason.
		_ = ctx.Error(resp.Err)
	}
	ctx.Data(resp.StatusCode(), resp.ContentType, resp.Body)
}

func (c *WebhookController) handleStatus(ctx *gin.Context, name string) {
	if _, ok := c.orchestrators[name]; !ok {
		c.unknownChannel(ctx, name)
		return
	}
	logger.FromGin(ctx).Debug("Delivery receipt acknowledged",
		"channel", name,
		"message_status", ctx.PostForm("MessageStatus"),
	)
	ctx.Status(http.StatusOK)
}

func (c *WebhookController) unknownChannel(ctx *gin.Context, name string) {
	_ = ctx.Error(apperrors.NewNotFoundError(apperrors.CodeUnknownChannel, "unknown channel").
		WithDetails(gin.H{"channel": name}))
	ctx.Abort()
}

// publicURL rebuilds the URL the provider called, which is what it signed.
// Behind a proxy the Host and scheme seen here differ, so X-Forwarded-* win
// unless a public base URL is configured.
func (c *WebhookController) publicURL(ctx *gin.Context) string {
	uri := ctx.Request.URL.RequestURI()
	if c.publicBaseURL != "" {
		return c.publicBaseURL + uri
	}

	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if proto := ctx.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	host := ctx.Request.Host
	if fwd := ctx.GetHeader("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	return scheme + "://" + host + uri
}
