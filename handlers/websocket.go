package handlers

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/training"
)

const writeWait = 10 * time.Second

// Frame types
const (
	FrameEpochUpdate      = "epoch_update"
	FrameTrainingComplete = "training_complete"
	FrameTrainingFailed   = "training_failed"
	FrameMetricsUpdate    = "metrics_update"
	FrameNoData           = "no_data"
	FrameAlerts           = "alerts"
	FrameError            = "error"
)

// stream is one upgraded connection. Only the handler goroutine writes; a
// reader goroutine drains client frames and closes done on disconnect.
type stream struct {
	conn *websocket.Conn
	done chan struct{}
}

func (h *Handler) upgrade(c *gin.Context) (*stream, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade failed for %s: %v", c.Request.URL.Path, err)
		return nil, false
	}
	s := &stream{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return s, true
}

func (s *stream) send(v interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// close sends a normal close frame and releases the connection
func (s *stream) close() {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.conn.Close()
}

// TrainingStream handles /ws/training/:run_id
// Streams registry events and polls the status on every interval until the
// run ends or the client goes away
func (h *Handler) TrainingStream(c *gin.Context) {
	runID := c.Param("run_id")
	s, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer s.close()

	events, unsubscribe, err := h.registry.Subscribe(runID)
	if err != nil {
		s.send(gin.H{"type": FrameError, "message": "Training run not found"})
		return
	}
	defer unsubscribe()

	ticker := time.NewTicker(h.cfg.TrainingStreamInterval)
	defer ticker.Stop()

	// epoch frames never go backwards and never repeat
	last := -1
	progress := func(frame gin.H, epoch int) error {
		if epoch <= last {
			return nil
		}
		last = epoch
		return s.send(frame)
	}

	// poll answers from the status snapshot and reports whether the stream ended
	poll := func() bool {
		status, err := h.registry.Status(runID)
		if err != nil {
			s.send(gin.H{"type": FrameError, "message": "Training run not found"})
			return true
		}
		frame, terminal := statusFrame(status)
		if terminal {
			s.send(frame)
			return true
		}
		return progress(frame, status.CurrentEpoch) != nil
	}

	if poll() {
		return
	}
	for {
		select {
		case <-s.done:
			logger.Infof("Training WebSocket disconnected: %s", runID)
			return
		case ev, open := <-events:
			if !open {
				// the registry shut down or the run ended while we were polling
				if !poll() {
					s.send(gin.H{"type": FrameError, "message": "Training stream closed"})
				}
				return
			}
			if ev.Terminal() {
				s.send(eventFrame(ev))
				return
			}
			if err := progress(eventFrame(ev), ev.Epoch); err != nil {
				return
			}
		case <-ticker.C:
			if poll() {
				return
			}
		}
	}
}

// PerformanceStream handles /ws/performance
func (h *Handler) PerformanceStream(c *gin.Context) {
	s, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer s.close()

	h.every(s, h.cfg.PerformanceInterval, func() error {
		p, ok := h.monitor.Snapshot()
		if !ok {
			return s.send(gin.H{"type": FrameNoData, "message": "No training runs found"})
		}
		return s.send(gin.H{
			"type": FrameMetricsUpdate,
			"metrics": gin.H{
				"accuracy": math.Round(p.Accuracy*1000) / 10,
				"status":   p.Status,
			},
			"alerts":    p.Alerts,
			"timestamp": p.Timestamp,
		})
	})
}

// AlertsStream handles /ws/alerts
// Frames are only sent while at least one alert is raised
func (h *Handler) AlertsStream(c *gin.Context) {
	s, ok := h.upgrade(c)
	if !ok {
		return
	}
	defer s.close()

	h.every(s, h.cfg.AlertsInterval, func() error {
		alerts := h.monitor.ScanAlerts()
		if len(alerts) == 0 {
			return nil
		}
		return s.send(gin.H{"type": FrameAlerts, "alerts": alerts})
	})
}

// every runs fn now and on each tick until it fails or the client leaves
func (h *Handler) every(s *stream, interval time.Duration, fn func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := fn(); err != nil {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := fn(); err != nil {
				logger.Debugf("WebSocket write failed: %v", err)
				return
			}
		}
	}
}

func statusFrame(status models.StatusResponse) (gin.H, bool) {
	switch status.Status {
	case models.StatusCompleted:
		return gin.H{
			"type":    FrameTrainingComplete,
			"metrics": status.Metrics,
			"message": "Training completed successfully",
		}, true
	case models.StatusFailed:
		msg := "Unknown error"
		if status.Error != nil {
			msg = *status.Error
		}
		return gin.H{
			"type":    FrameTrainingFailed,
			"error":   msg,
			"message": "Training failed",
		}, true
	default:
		return gin.H{
			"type":         FrameEpochUpdate,
			"epoch":        status.CurrentEpoch,
			"total_epochs": status.TotalEpochs,
			"metrics":      status.Metrics,
		}, false
	}
}

func eventFrame(ev training.Event) gin.H {
	switch ev.Type {
	case training.EventCompleted:
		return gin.H{
			"type":    FrameTrainingComplete,
			"metrics": ev.Metrics,
			"message": "Training completed successfully",
		}
	case training.EventFailed:
		return gin.H{
			"type":    FrameTrainingFailed,
			"error":   ev.Error,
			"message": "Training failed",
		}
	default:
		return gin.H{
			"type":         FrameEpochUpdate,
			"epoch":        ev.Epoch,
			"total_epochs": ev.TotalEpochs,
			"metrics":      ev.Metrics,
		}
	}
}
