package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/models"
)

// statusForError maps engine error kinds onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, common.ErrAlertNotFound),
		errors.Is(err, common.ErrUnknownSensorType):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlertTerminal):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidThresholdOrdering),
		errors.Is(err, common.ErrUnitMismatch),
		errors.Is(err, common.ErrReadingFromFuture),
		errors.Is(err, common.ErrInvalidReading),
		errors.Is(err, common.ErrInvalidComposition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

type ReadingRequest struct {
	SensorType   string    `json:"sensor_type"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
	ObservedAt   time.Time `json:"observed_at"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	LocationName string    `json:"location_name"`
}

var readingRequestSchema = z.Struct(z.Shape{
	"SensorType":   z.String().Required(),
	"Value":        z.Float64().Required(),
	"Unit":         z.String(),
	"ObservedAt":   z.Time(),
	"Latitude":     z.Float64(),
	"Longitude":    z.Float64(),
	"LocationName": z.String(),
})

func (rs *RestfulServer) PostReading(c *gin.Context) {
	sensorID := c.Param("sensor_id")

	if !rs.CheckSensorLimiter(sensorID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	var req ReadingRequest
	if err := readingRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	reading, err := rs.Engine.Ingestor.Ingest(&engine.RawReading{
		SensorID:     sensorID,
		SensorType:   models.SensorType(req.SensorType),
		Value:        req.Value,
		Unit:         req.Unit,
		ObservedAt:   req.ObservedAt,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		LocationName: req.LocationName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	result, err := rs.Engine.Evaluator.Evaluate(reading)
	if err != nil {
		abortWithError(c, err)
		return
	}

	alert, err := rs.Engine.Aggregator.ProcessEvaluation(reading, result)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := gin.H{
		"reading_id":           reading.ID,
		"severity":             result.Severity,
		"threshold_version_id": result.ThresholdVersionID,
	}
	if alert != nil {
		resp["alert_id"] = alert.ID
	}
	c.JSON(http.StatusOK, resp)
}

type ThresholdRequest struct {
	Low      float64 `json:"low"`
	Moderate float64 `json:"moderate"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

var thresholdRequestSchema = z.Struct(z.Shape{
	"Low":      z.Float64().Required(),
	"Moderate": z.Float64().Required(),
	"High":     z.Float64().Required(),
	"Critical": z.Float64().Required(),
})

func (rs *RestfulServer) PutThresholds(c *gin.Context) {
	sensorType := models.SensorType(c.Param("sensor_type"))

	var req ThresholdRequest
	if err := thresholdRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	versionID, err := rs.Engine.Thresholds.Update(sensorType, engine.ThresholdLevels{
		Low:      req.Low,
		Moderate: req.Moderate,
		High:     req.High,
		Critical: req.Critical,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"version_id": versionID})
}

func (rs *RestfulServer) GetThresholds(c *gin.Context) {
	sensorType := models.SensorType(c.Param("sensor_type"))

	version, err := rs.Engine.Thresholds.GetActive(sensorType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (rs *RestfulServer) GetThresholdVersion(c *gin.Context) {
	version, err := rs.Engine.Thresholds.GetVersion(c.Param("version_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, version)
}

type ComposeRequest struct {
	Title        string   `json:"title"`
	ThreatType   string   `json:"threat_type"`
	Severity     string   `json:"severity"`
	LocationName string   `json:"location_name"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	AffectedArea string   `json:"affected_area"`
	Description  string   `json:"description"`
	Confidence   int      `json:"confidence"`
	TargetGroups []string `json:"target_groups"`
	Channels     []string `json:"channels"`
}

var composeRequestSchema = z.Struct(z.Shape{
	"Title":        z.String().Required(),
	"ThreatType":   z.String().Required(),
	"Severity":     z.String().Required(),
	"LocationName": z.String(),
	"Latitude":     z.Float64(),
	"Longitude":    z.Float64(),
	"AffectedArea": z.String(),
	"Description":  z.String(),
	"Confidence":   z.Int(),
	"TargetGroups": z.Slice(z.String()),
	"Channels":     z.Slice(z.String()),
})

func (rs *RestfulServer) PostAlert(c *gin.Context) {
	var req ComposeRequest
	if err := composeRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	alert, err := rs.Engine.Aggregator.Create(&engine.Composition{
		Title:           req.Title,
		ThreatType:      req.ThreatType,
		Severity:        models.Severity(req.Severity),
		LocationName:    req.LocationName,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		AffectedArea:    req.AffectedArea,
		Description:     req.Description,
		Confidence:      req.Confidence,
		RecipientGroups: req.TargetGroups,
		Channels: common.Mapper(req.Channels, func(ch string) models.Channel {
			return models.Channel(ch)
		}),
	}, actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// actorFrom names the operator for the audit trail; the UI sends it in a
// header, absent means an unauthenticated operator console.
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "operator"
}

type alertWithDistribution struct {
	models.Alert
	Distribution map[models.Channel]engine.ChannelTotals `json:"distribution"`
}

func (rs *RestfulServer) GetAlerts(c *gin.Context) {
	filter := engine.AlertFilter{}
	if statuses := c.Query("status"); statuses != "" {
		filter.Statuses = common.Mapper(strings.Split(statuses, ","), func(s string) models.AlertStatus {
			return models.AlertStatus(s)
		})
	}
	if severities := c.Query("severity"); severities != "" {
		filter.Severities = common.Mapper(strings.Split(severities, ","), func(s string) models.Severity {
			return models.Severity(s)
		})
	}
	if threatTypes := c.Query("threat_type"); threatTypes != "" {
		filter.ThreatTypes = strings.Split(threatTypes, ",")
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}
	if until := c.Query("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		filter.Until = t
	}

	alerts, err := rs.Engine.Aggregator.Query(filter)
	if err != nil {
		abortWithError(c, err)
		return
	}

	feed := make([]alertWithDistribution, 0, len(alerts))
	for _, alert := range alerts {
		summary, err := rs.Engine.Dispatcher.Summary(alert.ID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		feed = append(feed, alertWithDistribution{Alert: alert, Distribution: summary})
	}
	c.JSON(http.StatusOK, feed)
}

func (rs *RestfulServer) EscalateAlert(c *gin.Context) {
	alert, err := rs.Engine.Aggregator.Escalate(c.Param("alert_id"), actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (rs *RestfulServer) CancelAlert(c *gin.Context) {
	alert, err := rs.Engine.Aggregator.Cancel(c.Param("alert_id"), actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (rs *RestfulServer) ResolveAlert(c *gin.Context) {
	alert, err := rs.Engine.Aggregator.Resolve(c.Param("alert_id"), actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type ModifyRequest struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	AffectedArea *string   `json:"affected_area"`
	TargetGroups *[]string `json:"target_groups"`
	Channels     *[]string `json:"channels"`
}

func (rs *RestfulServer) ModifyAlert(c *gin.Context) {
	var req ModifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := engine.ModifyFields{
		Title:        req.Title,
		Description:  req.Description,
		AffectedArea: req.AffectedArea,
	}
	if req.TargetGroups != nil {
		fields.RecipientGroups = req.TargetGroups
	}
	if req.Channels != nil {
		channels := common.Mapper(*req.Channels, func(ch string) models.Channel {
			return models.Channel(ch)
		})
		fields.Channels = &channels
	}

	alert, err := rs.Engine.Aggregator.Modify(c.Param("alert_id"), fields, actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (rs *RestfulServer) GetAlertAudit(c *gin.Context) {
	entries, err := rs.Engine.Audit.List(c.Param("alert_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (rs *RestfulServer) GetAlertDistribution(c *gin.Context) {
	alertID := c.Param("alert_id")

	records, err := rs.Engine.Dispatcher.Records(alertID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	summary, err := rs.Engine.Dispatcher.Summary(alertID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "summary": summary})
}

type DeliveryReceiptRequest struct {
	Delivered int `json:"delivered"`
}

var deliveryReceiptSchema = z.Struct(z.Shape{
	"Delivered": z.Int().Required(),
})

func (rs *RestfulServer) PostDeliveryReceipt(c *gin.Context) {
	var req DeliveryReceiptRequest
	if err := deliveryReceiptSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	err := rs.Engine.Dispatcher.ConfirmDelivery(
		c.Param("alert_id"),
		models.Channel(c.Param("channel")),
		req.Delivered,
	)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (rs *RestfulServer) GetDistributionSummary(c *gin.Context) {
	totals, err := rs.Engine.Dispatcher.Totals()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"Rate":  z.Float64().Required(),
	"Burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	sensorID := c.Param("sensor_id")

	var req LimiterRequest
	if err := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rs.SetLimiter(sensorID, req.Rate, req.Burst)

	c.Status(http.StatusOK)
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
