package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chess-vn/slduel/internal/app/gateway"
	"github.com/chess-vn/slduel/internal/domains/dtos"
	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/pkg/logging"
	"github.com/chess-vn/slduel/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.sessions.count(),
	})
}

func (s *server) handleGetMatch(c *gin.Context) {
	m, err := s.coord.GetMatch(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dtos.MatchResponseFromEntity(m))
	case errors.Is(err, duel.ErrNotFound):
		c.JSON(http.StatusNotFound, dtos.Response{Type: "error", Error: gateway.ErrStatusNotFound, Message: err.Error()})
	case duel.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, dtos.Response{Type: "error", Error: gateway.ErrStatusTransient, Message: err.Error()})
	default:
		logging.Error("failed to get match", zap.String("match_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dtos.Response{Type: "error", Error: gateway.ErrStatusInternal})
	}
}

func (s *server) handleDuel(c *gin.Context) {
	userId, err := s.auth(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dtos.Response{Type: "error", Error: gateway.ErrStatusUnauthorized, Message: err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	p := newPlayer(utils.GenerateUUID(), userId, conn, s.config.WriteTimeout)
	s.handlePlayerJoin(p)
	defer s.handlePlayerDisconnect(context.WithoutCancel(c.Request.Context()), p)

	stop := make(chan struct{})
	defer close(stop)
	go s.keepAlive(p, stop)

	caller := gateway.Caller{UserId: userId, ConnectionRef: p.ref}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			logging.Info("connection closed",
				zap.String("connection_ref", p.ref),
				zap.String("remote_address", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			return
		}
		s.extendDeadline(p)
		resp := s.gateway.Handle(c.Request.Context(), caller, message)
		if err := p.writeJson(resp); err != nil {
			logging.Warn("failed to write response",
				zap.String("connection_ref", p.ref),
				zap.Error(err),
			)
		}
	}
}

func (s *server) handlePlayerJoin(p *player) {
	s.extendDeadline(p)
	p.conn.SetPongHandler(func(string) error {
		s.extendDeadline(p)
		return nil
	})
	s.sessions.add(p)
	logging.Info("player connected",
		zap.String("connection_ref", p.ref),
		zap.String("player_id", p.userId),
	)
}

// handlePlayerDisconnect forfeits or drops the matches of a closed
// connection. During shutdown the matches are left for the next process.
func (s *server) handlePlayerDisconnect(ctx context.Context, p *player) {
	s.sessions.remove(p.ref)
	p.close()
	if s.shuttingDown.Load() {
		return
	}
	if !s.registry.has(p.ref) {
		return
	}
	matchIds := s.registry.matchesOf(p.ref)
	if err := s.gateway.Disconnect(ctx, p.ref); err != nil {
		// The orphan sweep retries while the connection stays indexed.
		logging.Error("failed to handle disconnect",
			zap.String("connection_ref", p.ref),
			zap.Strings("match_ids", matchIds),
			zap.Error(err),
		)
		return
	}
	s.registry.unbind(p.ref)
	peers := s.registry.release(matchIds)
	logging.Info("player disconnected",
		zap.String("connection_ref", p.ref),
		zap.Strings("match_ids", matchIds),
		zap.Strings("released_peers", peers),
	)
}

func (s *server) extendDeadline(p *player) {
	_ = p.conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
}

func (s *server) keepAlive(p *player, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
