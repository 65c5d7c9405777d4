package swingsense

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	log "github.com/inconshreveable/log15"
)

// CameraLister returns the cameras available to the remote detector.
type CameraLister func() ([]Camera, error)

func newRouter(station *Station, cameras CameraLister) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/config.json", func(c *gin.Context) {
		c.JSON(200, station.Config())
	})
	r.POST("/api/v1/config.json", func(c *gin.Context) {
		// Fields missing from the body keep their current value
		patch, err := c.GetRawData()
		if err != nil {
			c.AbortWithError(400, err)
			return
		}

		err = station.PatchConfig(patch)
		var configErr *ConfigError
		if errors.As(err, &configErr) {
			c.AbortWithStatusJSON(400, gin.H{"field": configErr.Field, "error": configErr.Error()})
			return
		}
		if errors.Is(err, ErrMalformedPatch) {
			c.AbortWithStatusJSON(400, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.AbortWithError(500, fmt.Errorf("failed to update config: %w", err))
			return
		}
		c.JSON(200, station.Config())
	})

	r.GET("/api/v1/telemetry.json", func(c *gin.Context) {
		o, ok := station.Telemetry()
		if !ok {
			c.Status(204)
			return
		}
		c.JSON(200, o)
	})

	r.GET("/api/v1/preview.jpg", func(c *gin.Context) {
		jpeg := station.Preview()
		if len(jpeg) == 0 {
			c.AbortWithStatus(404)
			return
		}
		reader := bytes.NewReader(jpeg)

		c.DataFromReader(200, int64(len(jpeg)), "image/jpeg", reader, map[string]string{})
	})

	r.GET("/api/v1/cameras.json", func(c *gin.Context) {
		list, err := cameras()
		if err != nil {
			c.AbortWithError(500, err)
			return
		}
		c.JSON(200, list)
	})

	return r
}

// RunApi serves the HTTP API on addr and blocks
func RunApi(addr string, verbose bool, station *Station, cameras CameraLister) error {
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info("Starting API", "addr", addr)
	return newRouter(station, cameras).Run(addr)
}
