package api

import (
	analyzeHandler "logwatch/api/handlers/analyze"
	policiesHandler "logwatch/api/handlers/policies"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func registerRoutes(api *gin.RouterGroup, c *Components, log *zap.Logger) {
	analyze := analyzeHandler.NewHandler(c.Analyzer, log.Named("http.analyze"))
	if c.Records != nil {
		analyze.WithRecords(c.Records)
	}
	api.POST("/analyze", analyze.Analyze)
	api.GET("/analyses", analyze.ListRecords)
	api.GET("/analyses/:request_id", analyze.GetRecord)

	policies := policiesHandler.NewHandler(c.Files, c.Queue, log.Named("http.policies"))
	policyGroup := api.Group("/policies")
	{
		policyGroup.POST("/reindex", policies.Reindex)
		policyGroup.GET("/:filename", policies.GetFile)
	}
}
