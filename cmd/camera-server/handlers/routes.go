package handlers

import "github.com/gin-gonic/gin"

// Register mounts all camera routes. snapshots may be nil.
func Register(r gin.IRouter, cam *CameraHandler, snapshots *SnapshotHandler, pages *PageHandler) {
	r.GET("/", pages.Index)
	r.GET("/video", cam.Stream)
	r.GET("/stream", cam.Stream)
	r.GET("/ws", cam.WebSocket)
	r.GET("/capture", cam.Capture)
	r.GET("/health", cam.Health)

	api := r.Group("/api")
	api.GET("/status", cam.Status)
	if snapshots != nil {
		api.GET("/snapshots", snapshots.List)
		r.GET("/snapshots/:name", snapshots.Get)
	}
}
