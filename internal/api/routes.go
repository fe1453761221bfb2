package api

import (
	"net/http"

	"frictionlog/app/internal/logger"
	"frictionlog/app/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	log *logger.Logger,
	pipelineService service.PipelineService,
) {
	pipelineHandler := NewPipelineHandler(pipelineService, log)

	router.Use(RequestLogger(log))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		uploadGroup := apiV1.Group("/uploads")
		{
			// POST /api/v1/uploads - issue a one-time direct-upload target
			uploadGroup.POST("", pipelineHandler.CreateUpload)
			// GET /api/v1/uploads/readiness?uploadId=... - poll until the asset
			// is processed, then transcribe and persist
			uploadGroup.GET("/readiness", pipelineHandler.CheckReadiness)
		}

		// POST /api/v1/analysis - stream the AI critique and persist it
		apiV1.POST("/analysis", pipelineHandler.RunAnalysis)

		artifactGroup := apiV1.Group("/artifacts")
		{
			// GET /api/v1/artifacts/audio?uploadId=... - presigned download
			// for the archived audio behind a run's transcript
			artifactGroup.GET("/audio", pipelineHandler.GetAudioArtifact)
			// DELETE /api/v1/artifacts/audio?uploadId=... - purge the artifact
			artifactGroup.DELETE("/audio", pipelineHandler.DeleteAudioArtifact)
		}
	}
}
