package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/authflow"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var errMissingFlows = errors.New("auth flow controller dependency required")

// AuthFlows is the flow surface the HTTP layer exposes; *authflow.Controller satisfies it.
type AuthFlows interface {
	LoginPage(ctx context.Context, r *http.Request) (authflow.Result, error)
	Login(ctx context.Context, r *http.Request) (authflow.Result, error)
	CompleteProvider(ctx context.Context, provider string, r *http.Request) (authflow.Result, error)
	OnboardingPage(ctx context.Context, r *http.Request) (authflow.Result, error)
	Onboard(ctx context.Context, r *http.Request) (authflow.Result, error)
	ResetPasswordPage(ctx context.Context, r *http.Request) (authflow.Result, error)
	ResetPassword(ctx context.Context, r *http.Request) (authflow.Result, error)
	Logout() authflow.Result
	CurrentUser(ctx context.Context, r *http.Request) (users.User, bool, error)
}

type Dependencies struct {
	Flows AuthFlows
	// AllowedOrigins enables credentialed CORS for the listed origins; empty allows any origin without credentials.
	AllowedOrigins []string
	Logger         *zap.Logger
}

type flowFunc func(ctx context.Context, r *http.Request) (authflow.Result, error)

// NewHTTPHandler wires the auth routes, health and metrics endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Flows == nil {
		return nil, errMissingFlows
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		flows:  deps.Flows,
		logger: logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/login", handler.run("login_page", deps.Flows.LoginPage))
	router.POST("/login", handler.run("login", deps.Flows.Login))
	router.GET("/auth/:provider/callback", handler.handleProviderCallback)
	router.GET("/onboarding", handler.run("onboarding_page", deps.Flows.OnboardingPage))
	router.POST("/onboarding", handler.run("onboarding", deps.Flows.Onboard))
	router.GET("/reset-password", handler.run("reset_password_page", deps.Flows.ResetPasswordPage))
	router.POST("/reset-password", handler.run("reset_password", deps.Flows.ResetPassword))
	router.POST("/logout", handler.handleLogout)
	router.GET("/me", handler.handleMe)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}

type httpHandler struct {
	flows  AuthFlows
	logger *zap.Logger
}

type userResponsePayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (h *httpHandler) run(route string, flow flowFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := flow(c.Request.Context(), c.Request)
		h.respond(c, route, result, err)
	}
}

func (h *httpHandler) handleProviderCallback(c *gin.Context) {
	result, err := h.flows.CompleteProvider(c.Request.Context(), c.Param("provider"), c.Request)
	h.respond(c, "provider_callback", result, err)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.respond(c, "logout", h.flows.Logout(), nil)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, ok, err := h.flows.CurrentUser(c.Request.Context(), c.Request)
	if err != nil {
		h.logger.Error("failed to resolve session user", zap.String("route", "me"), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, userResponsePayload{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		Name:     user.Name,
	})
}

// respond translates a flow Result into cookies, a status code and a JSON body.
func (h *httpHandler) respond(c *gin.Context, route string, result authflow.Result, err error) {
	if err != nil {
		h.logger.Error("auth flow failed", zap.String("route", route), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	for _, cookie := range result.Cookies {
		http.SetCookie(c.Writer, cookie)
	}

	switch result.Outcome {
	case authflow.OutcomeRedirect, authflow.OutcomeAuthenticated, authflow.OutcomeExternalRedirect:
		status := http.StatusFound
		if c.Request.Method == http.MethodPost {
			status = http.StatusSeeOther
		}
		c.Redirect(status, result.RedirectTo)
	case authflow.OutcomeValidationFailed:
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": errorsPayload(result.Errors)})
	case authflow.OutcomeBlocked:
		c.JSON(http.StatusBadRequest, gin.H{"status": "blocked", "message": result.Message})
	default:
		data := result.Data
		if data == nil {
			data = map[string]any{}
		}
		c.JSON(http.StatusOK, data)
	}
}

func errorsPayload(errs authflow.FormErrors) authflow.FormErrors {
	if errs.Form == nil {
		errs.Form = []string{}
	}
	if errs.Fields == nil {
		errs.Fields = map[string][]string{}
	}
	return errs
}
