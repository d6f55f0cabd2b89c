package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"engagement-engine/internal/automation"
	"engagement-engine/internal/clock"
	"engagement-engine/internal/runner"
	"engagement-engine/internal/tenant"
	"engagement-engine/internal/ticket"
	"engagement-engine/internal/webhook"
	"engagement-engine/internal/whatsapp"
	"engagement-engine/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Provider is the messaging client used outside the automation engine.
type Provider interface {
	SendMessage(ctx context.Context, creds whatsapp.Credentials, to, body string) (string, error)
	SendRawMessage(ctx context.Context, creds whatsapp.Credentials, msg whatsapp.GenericMessage) (string, error)
	SendTemplateMessage(ctx context.Context, creds whatsapp.Credentials, to, templateName, languageCode string, params ...string) (string, error)
	Ping(ctx context.Context, creds whatsapp.Credentials) error
}

// Deps carries everything the HTTP surface is built from.
type Deps struct {
	DB          *gorm.DB
	Engine      *automation.Engine
	Runner      *runner.Runner
	Tickets     *ticket.Manager
	Tenants     *tenant.Resolver
	Credentials *automation.CredentialStore
	Provider    Provider
	Webhook     *webhook.Handler
	Hub         *ws.Hub
	JWTSecret   string
	// SendDelay is the pause between provider calls of a broadcast.
	SendDelay time.Duration
	// Registry receives the HTTP collectors and backs /metrics. Nil uses the
	// process-wide default registry.
	Registry *prometheus.Registry
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if d.Registry != nil {
		reg, gatherer = d.Registry, d.Registry
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger), newHTTPMetrics(reg).instrument(), CORS())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			tenantID := c.Query("tenant")
			if tenantID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required"})
				return
			}
			d.Hub.ServeWs(c.Writer, c.Request, tenantID)
		})
	}

	if d.Webhook != nil {
		r.GET("/webhook", d.Webhook.VerifyWebhook)
		r.POST("/webhook", d.Webhook.HandleMessage)
	}

	functions := NewFunctionsHandler(d.Engine, d.Runner)
	fn := r.Group("/functions", JWTAuth(d.JWTSecret))
	{
		fn.POST("/birthday", functions.Birthday)
		fn.POST("/no-response", functions.NoResponse)
		fn.POST("/schedule", functions.Schedule)
		fn.POST("/sweep", functions.Sweep)
		fn.POST("/welcome", functions.Welcome)
		fn.POST("/ticket-status", functions.TicketStatus)
	}

	tickets := NewTicketHandler(d.Tickets, d.Tenants, d.Clock)
	automationHandler := NewAutomationHandler(d.Tenants, automation.NewRuleStore(d.DB), d.Engine.Ledger(), automation.NewNotificationStore(d.DB))
	templates := NewTemplateHandler(d.DB, d.Tenants)
	contacts := NewContactHandler(d.DB, d.Engine, d.Tenants, d.Logger)
	var events automation.Publisher
	if d.Hub != nil {
		events = d.Hub
	}
	conversations := NewConversationHandler(d.DB, d.Tenants, d.Credentials, d.Provider, events, d.Clock)
	settings := NewSettingsHandler(d.Tenants, d.Credentials, d.Provider)
	direct := NewWhatsAppHandler(d.Tenants, d.Credentials, d.Provider, d.Clock, d.SendDelay, d.Logger)

	apiGroup := r.Group("/api")
	{
		// Tickets
		apiGroup.GET("/tickets", tickets.ListTickets)
		apiGroup.POST("/tickets", tickets.CreateTicket)
		apiGroup.GET("/tickets/sla", tickets.GetSLAReport)
		apiGroup.GET("/tickets/:id", tickets.GetTicket)
		apiGroup.PATCH("/tickets/:id", tickets.UpdateTicket)
		apiGroup.GET("/tickets/:id/history", tickets.GetHistory)

		// Automation
		apiGroup.GET("/automation/rules", automationHandler.GetRules)
		apiGroup.POST("/automation/rules", automationHandler.CreateRule)
		apiGroup.GET("/automation/rules/:id", automationHandler.GetRule)
		apiGroup.PUT("/automation/rules/:id", automationHandler.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", automationHandler.DeleteRule)
		apiGroup.POST("/automation/rules/:id/toggle", automationHandler.ToggleRule)
		apiGroup.GET("/automation/logs", automationHandler.GetLogs)
		apiGroup.GET("/automation/analytics", automationHandler.GetAnalytics)
		apiGroup.GET("/automation/notifications", automationHandler.GetNotifications)
		apiGroup.POST("/automation/notifications", automationHandler.CreateNotification)
		apiGroup.PUT("/automation/notifications/:id", automationHandler.UpdateNotification)
		apiGroup.DELETE("/automation/notifications/:id", automationHandler.DeleteNotification)

		apiGroup.GET("/templates", templates.GetTemplates)
		apiGroup.POST("/templates", templates.CreateTemplate)
		apiGroup.PUT("/templates/:id", templates.UpdateTemplate)
		apiGroup.DELETE("/templates/:id", templates.DeleteTemplate)

		// CRM
		apiGroup.GET("/contacts", contacts.GetContacts)
		apiGroup.POST("/contacts", contacts.CreateContact)
		apiGroup.GET("/contacts/export", contacts.ExportContacts)
		apiGroup.PUT("/contacts/:id", contacts.UpdateContact)
		apiGroup.DELETE("/contacts/:id", contacts.DeleteContact)

		apiGroup.GET("/conversations", conversations.GetConversations)
		apiGroup.GET("/conversations/:id/messages", conversations.GetMessages)
		apiGroup.POST("/conversations/:id/messages", conversations.SendMessage)
		apiGroup.POST("/conversations/:id/bot", conversations.SetBot)

		// Tenant configuration
		apiGroup.GET("/settings", settings.GetSettings)
		apiGroup.PUT("/settings", settings.UpdateSettings)
		apiGroup.GET("/credentials", settings.GetCredentials)
		apiGroup.PUT("/credentials/:type", settings.SaveCredential)
		apiGroup.POST("/credentials/whatsapp/test", settings.TestWhatsApp)

		// WhatsApp Direct API Routes
		whatsappGroup := apiGroup.Group("/whatsapp")
		{
			whatsappGroup.POST("/send", direct.SendMessage)
			whatsappGroup.POST("/broadcast", direct.SendBroadcast)
		}
	}

	return r
}

// CORS allows the dashboard to call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Owner-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
