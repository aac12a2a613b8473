package service

import (
	"net/http"
	"time"

	"github.com/danmuck/sessionsharer/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessionBody is the admin view of the held id. A null id means no
// session.
type sessionBody struct {
	ID *uint64 `json:"id"`
}

func bodyFromID(v protocol.NullID) sessionBody {
	if !v.Valid {
		return sessionBody{}
	}
	id := uint64(v.ID)
	return sessionBody{ID: &id}
}

func (b sessionBody) nullID() protocol.NullID {
	if b.ID == nil {
		return protocol.None()
	}
	return protocol.Some(protocol.SessionID(*b.ID))
}

func (s *HolderService) registerRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  s.clk.Now().Sub(s.appeared).Round(time.Second).String(),
			"holder":  s.cfg.ID,
			"channel": s.cfg.Sharer.Channel,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		_, serving := s.Current()
		status := http.StatusOK
		if !serving {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": serving, "holder": s.cfg.ID})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/session", func(c *gin.Context) {
		v, serving := s.Current()
		body := bodyFromID(v)
		c.JSON(http.StatusOK, gin.H{"id": body.ID, "serving": serving})
	})

	r.PUT("/session", func(c *gin.Context) {
		var body sessionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Publish(body.nullID())
		v, serving := s.Current()
		c.JSON(http.StatusOK, gin.H{"id": bodyFromID(v).ID, "serving": serving})
	})
}
