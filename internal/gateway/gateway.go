// Package gateway exposes the operator HTTP API: settlement confirmation
// lookups, per-subnet history, health, and a websocket stream of settlement
// outcomes.
package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/replay"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/messaging"
)

// Gateway serves the operator API.
type Gateway struct {
	replay    *replay.Ledger
	msg       *messaging.Client
	jwtSecret []byte
	log       *zap.Logger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
}

// New creates a gateway. An empty jwtSecret disables authentication, which
// is only acceptable for local development.
func New(rp *replay.Ledger, msg *messaging.Client, jwtSecret string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		replay:    rp,
		msg:       msg,
		jwtSecret: []byte(jwtSecret),
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Router builds the gin engine.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", g.handleHealth)
	r.GET("/ws/settlements", g.handleStream)

	api := r.Group("/api/v1")
	api.Use(g.authMiddleware())
	{
		api.GET("/settlements/:subnet_id", g.handleHistory)
		api.GET("/settlements/:subnet_id/:block_number", g.handleConfirmation)
	}

	return r
}

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(g.jwtSecret) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		_, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			return g.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

func (g *Gateway) handleHealth(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	if g.msg != nil && !g.msg.IsConnected() {
		status["status"] = "degraded"
		status["nats"] = "disconnected"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (g *Gateway) handleConfirmation(c *gin.Context) {
	subnetID := c.Param("subnet_id")
	blockNumber, err := strconv.ParseUint(c.Param("block_number"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block number"})
		return
	}

	confirmation, err := g.replay.Confirmation(c.Request.Context(), subnetID, blockNumber)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, confirmation)
}

func (g *Gateway) handleHistory(c *gin.Context) {
	subnetID := c.Param("subnet_id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	records, err := g.replay.History(c.Request.Context(), subnetID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records})
}

func (g *Gateway) handleStream(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	g.mu.Lock()
	g.clients[conn] = struct{}{}
	g.mu.Unlock()

	// Reader loop only detects disconnects; the stream is write-only.
	go func() {
		defer g.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (g *Gateway) dropClient(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[conn]; ok {
		delete(g.clients, conn)
		conn.Close()
	}
}

// Broadcast pushes a settlement outcome to every connected stream client.
func (g *Gateway) Broadcast(outcome messaging.SettlementOutcome) {
	g.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(g.clients))
	for conn := range g.clients {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(outcome); err != nil {
			g.dropClient(conn)
		}
	}
}
