package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/auth"
	"github.com/satriahrh/concierge-voice/internal/netquality"
	"github.com/satriahrh/concierge-voice/internal/websocket"
)

// probeBodySize is large enough for the quality prober to estimate downlink
const probeBodySize = 32 * 1024

var probeBody = make([]byte, probeBodySize)

// Calls is the part of the call service the HTTP API reads
type Calls interface {
	Session(deviceID string) (*entities.CallSession, bool)
	Transcript(ctx context.Context, callID string) ([]entities.Utterance, error)
}

// NetworkStatus reports the latest connection quality verdict
type NetworkStatus interface {
	Current() netquality.Quality
}

// Deps are the collaborators the routes need
type Deps struct {
	Hub        *websocket.Hub
	Calls      Calls
	Signer     *auth.Signer
	DeviceKeys map[string]string // device_id -> secret
	Network    NetworkStatus     // Optional
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	logger := deps.Logger

	e.GET("/health", func(c echo.Context) error {
		resp := HealthResponse{Status: "ok", Service: "concierge-voice"}
		if deps.Hub != nil {
			resp.ConnectedDevices = deps.Hub.ConnectedDevices()
		}
		return c.JSON(http.StatusOK, resp)
	})

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")

	// Connection quality probe target
	v1.GET("/ping", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, probeBody)
	})

	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, deps, logger)
	})

	device := v1.Group("", deviceTokenMiddleware(deps.Signer, logger))
	device.GET("/calls/:deviceID", func(c echo.Context) error {
		return callStatus(c, deps)
	})
	device.GET("/transcripts/:callID", func(c echo.Context) error {
		return transcript(c, deps, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(deps.Hub, deps.Signer, c, logger)
	})
}

func deviceAuth(c echo.Context, deps Deps, logger *zap.Logger) error {
	var req DeviceAuthRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.DeviceID == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Device ID and secret key are required",
		})
	}

	secret, ok := deps.DeviceKeys[req.DeviceID]
	if !ok || subtle.ConstantTimeCompare([]byte(secret), []byte(req.SecretKey)) != 1 {
		logger.Warn("Device authentication failed", zap.String("device_id", req.DeviceID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, expiresAt, err := deps.Signer.GenerateDeviceToken(req.DeviceID)
	if err != nil {
		logger.Error("Failed to generate device token",
			zap.String("device_id", req.DeviceID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Device authenticated successfully", zap.String("device_id", req.DeviceID))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  req.DeviceID,
	})
}

func callStatus(c echo.Context, deps Deps) error {
	deviceID := c.Param("deviceID")
	if deviceID != authenticatedDevice(c) {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Devices may only read their own calls",
		})
	}

	resp := CallStatusResponse{
		DeviceID:  deviceID,
		Connected: deps.Hub != nil && deps.Hub.IsConnected(deviceID),
	}
	if session, ok := deps.Calls.Session(deviceID); ok {
		resp.Call = session
	}
	if deps.Network != nil {
		quality := deps.Network.Current()
		resp.Network = &quality
	}
	if deps.Hub != nil {
		if link, ok := deps.Hub.LinkQuality(deviceID); ok {
			resp.Link = &link
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func transcript(c echo.Context, deps Deps, logger *zap.Logger) error {
	callID := c.Param("callID")
	utterances, err := deps.Calls.Transcript(c.Request().Context(), callID)
	if err != nil {
		logger.Error("Failed to load transcript", zap.String("callID", callID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "transcript_unavailable",
			Message: "Failed to load transcript",
		})
	}

	deviceID := authenticatedDevice(c)
	for _, u := range utterances {
		if u.DeviceID != deviceID {
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Devices may only read their own transcripts",
			})
		}
	}

	return c.JSON(http.StatusOK, TranscriptResponse{CallID: callID, Utterances: utterances})
}

const deviceContextKey = "device_id"

func deviceTokenMiddleware(signer *auth.Signer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, status, resp := authenticate(signer, c)
			if claims == nil {
				logger.Warn("API request rejected", zap.String("path", c.Path()), zap.String("error", resp.Error))
				return c.JSON(status, resp)
			}
			c.Set(deviceContextKey, claims.DeviceID)
			return next(c)
		}
	}
}

func authenticatedDevice(c echo.Context) string {
	deviceID, _ := c.Get(deviceContextKey).(string)
	return deviceID
}

// authenticate extracts and validates the bearer device token
func authenticate(signer *auth.Signer, c echo.Context) (*auth.JWTClaims, int, ErrorResponse) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return nil, http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		}
	}

	claims, err := signer.ValidateDeviceToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRole) {
			return nil, http.StatusForbidden, ErrorResponse{
				Error:   "invalid_role",
				Message: "Only device tokens are allowed",
			}
		}
		return nil, http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		}
	}
	return claims, 0, ErrorResponse{}
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, signer *auth.Signer, c echo.Context, logger *zap.Logger) error {
	claims, status, resp := authenticate(signer, c)
	if claims == nil {
		logger.Warn("WebSocket connection rejected", zap.String("error", resp.Error))
		return c.JSON(status, resp)
	}

	logger.Info("WebSocket connection authenticated", zap.String("device_id", claims.DeviceID))

	return websocket.HandleWebSocketWithAuth(hub, c, claims.DeviceID, logger)
}
