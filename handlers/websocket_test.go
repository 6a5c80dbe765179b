package handlers

import (
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/monitor"
)

type frame struct {
	Type        string             `json:"type"`
	Message     string             `json:"message"`
	Error       string             `json:"error"`
	Epoch       int                `json:"epoch"`
	TotalEpochs int                `json:"total_epochs"`
	Metrics     map[string]float64 `json:"metrics"`
	Alerts      []models.Alert     `json:"alerts"`
}

func (s *HandlerTestSuite) dial(path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return conn
}

func (s *HandlerTestSuite) readFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn.ReadJSON(v)
}

func (s *HandlerTestSuite) TestTrainingStreamUntilComplete() {
	up := s.upload("ctr.csv", ctrCSV(100))
	runID := s.startTraining(up.FileID, map[string]interface{}{"epochs": 3, "batch_size": 64})

	conn := s.dial("/ws/training/" + runID)
	var last frame
	for i := 0; i < 100; i++ {
		var f frame
		s.Require().NoError(s.readFrame(conn, &f))
		last = f
		if f.Type != FrameEpochUpdate {
			break
		}
		s.Equal(3, f.TotalEpochs)
		s.LessOrEqual(f.Epoch, 3)
	}
	s.Require().Equal(FrameTrainingComplete, last.Type)
	s.Contains(last.Metrics, models.MetricFinalValAccuracy)

	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func (s *HandlerTestSuite) TestTrainingStreamEpochsNeverGoBackwards() {
	// no pause between epochs and a fast ticker so polls and events interleave
	s.TearDownTest()
	s.start(0, time.Millisecond)

	up := s.upload("ctr.csv", ctrCSV(40))
	for trial := 0; trial < 3; trial++ {
		runID := s.startTraining(up.FileID, map[string]interface{}{"epochs": 300, "batch_size": 64})
		conn := s.dial("/ws/training/" + runID)

		last := -1
		for {
			var f frame
			s.Require().NoError(s.readFrame(conn, &f))
			if f.Type != FrameEpochUpdate {
				s.Require().Equal(FrameTrainingComplete, f.Type, f.Error)
				break
			}
			s.Require().Greater(f.Epoch, last, "run %s", runID)
			last = f.Epoch
		}
		s.wait(runID)
	}
}

func (s *HandlerTestSuite) TestTrainingStreamFinishedRun() {
	runID := s.failedRun()

	conn := s.dial("/ws/training/" + runID)
	var f frame
	s.Require().NoError(s.readFrame(conn, &f))
	s.Equal(FrameTrainingFailed, f.Type)
	s.NotEmpty(f.Error)
}

func (s *HandlerTestSuite) TestTrainingStreamUnknownRun() {
	conn := s.dial("/ws/training/nope")
	var f frame
	s.Require().NoError(s.readFrame(conn, &f))
	s.Equal(FrameError, f.Type)
	s.Equal("Training run not found", f.Message)
}

func (s *HandlerTestSuite) TestPerformanceStreamWithoutRuns() {
	conn := s.dial("/ws/performance")
	for i := 0; i < 2; i++ {
		var f frame
		s.Require().NoError(s.readFrame(conn, &f))
		s.Equal(FrameNoData, f.Type)
		s.Equal("No training runs found", f.Message)
	}
}

func (s *HandlerTestSuite) TestPerformanceStreamReportsFailedRun() {
	s.failedRun()

	conn := s.dial("/ws/performance")
	var f struct {
		Type    string `json:"type"`
		Metrics struct {
			Accuracy float64 `json:"accuracy"`
			Status   string  `json:"status"`
		} `json:"metrics"`
		Alerts []string `json:"alerts"`
	}
	s.Require().NoError(s.readFrame(conn, &f))
	s.Equal(FrameMetricsUpdate, f.Type)
	s.Equal(0.0, f.Metrics.Accuracy)
	s.Equal(monitor.StatusWarning, f.Metrics.Status)
	s.Len(f.Alerts, 1)
}

func (s *HandlerTestSuite) TestAlertsStream() {
	runID := s.failedRun()

	conn := s.dial("/ws/alerts")
	var f frame
	s.Require().NoError(s.readFrame(conn, &f))
	s.Equal(FrameAlerts, f.Type)
	s.Require().NotEmpty(f.Alerts)
	s.Equal(monitor.AlertTrainingFailed, f.Alerts[0].Type)
	s.Equal(models.SeverityHigh, f.Alerts[0].Severity)
	s.Equal(runID, f.Alerts[0].RunID)
}
