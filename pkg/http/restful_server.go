package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"coastwatch.dev/alert-engine/pkg/engine"
)

type RestfulServer struct {
	Server           *gin.Engine
	Engine           *engine.Engine
	RateLimiterStore *engine.RateLimiterStore
}

func (rs *RestfulServer) GetLimiter(sensorID string) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(sensorID)
	}
}

func (rs *RestfulServer) CheckSensorLimiter(sensorID string) bool {
	limiter := rs.GetLimiter(sensorID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rs *RestfulServer) SetLimiter(sensorID string, sensorRate float64, sensorBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(sensorID, rate.Limit(sensorRate), sensorBurst)
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)
	rs.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sensors := rs.Server.Group("/sensors/:sensor_id")
	{
		sensors.POST("/readings", rs.PostReading)
		sensors.POST("/limiter", rs.PostLimiter)
	}

	thresholds := rs.Server.Group("/thresholds")
	{
		thresholds.PUT("/:sensor_type", rs.PutThresholds)
		thresholds.GET("/:sensor_type", rs.GetThresholds)
		thresholds.GET("/versions/:version_id", rs.GetThresholdVersion)
	}

	alerts := rs.Server.Group("/alerts")
	{
		alerts.POST("", rs.PostAlert)
		alerts.GET("", rs.GetAlerts)
		alerts.POST("/:alert_id/escalate", rs.EscalateAlert)
		alerts.POST("/:alert_id/cancel", rs.CancelAlert)
		alerts.POST("/:alert_id/resolve", rs.ResolveAlert)
		alerts.PATCH("/:alert_id", rs.ModifyAlert)
		alerts.GET("/:alert_id/audit", rs.GetAlertAudit)
		alerts.GET("/:alert_id/distribution", rs.GetAlertDistribution)
		alerts.POST("/:alert_id/distribution/:channel/delivered", rs.PostDeliveryReceipt)
	}

	rs.Server.GET("/distribution/summary", rs.GetDistributionSummary)
}
