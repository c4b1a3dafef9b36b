// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes Atlas over HTTP for operators.
package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Atlas routes with the router.
//
// Description:
//
//	Registers all /v1/atlas/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/atlas/health - Health check
//	GET    /v1/atlas/instances - List registered instances
//	POST   /v1/atlas/instances/:name/load - Load an instance
//	POST   /v1/atlas/instances/:name/unload?save=true|false - Unload an instance
//	POST   /v1/atlas/instances/:name/duplicate - Copy an instance
//	DELETE /v1/atlas/instances/:name - Delete an instance's directory
//	POST   /v1/atlas/scan - Register instances found under a folder
//	GET    /v1/atlas/audit - Query recorded state changes
//
// Example:
//
//	handlers := api.NewHandlers(a, logger)
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	group := rg.Group("/atlas")
	{
		group.GET("/health", handlers.HandleHealth)

		instances := group.Group("/instances")
		{
			instances.GET("", handlers.HandleListInstances)
			instances.POST("/:name/load", handlers.HandleLoad)
			instances.POST("/:name/unload", handlers.HandleUnload)
			instances.POST("/:name/duplicate", handlers.HandleDuplicate)
			instances.DELETE("/:name", handlers.HandleDelete)
		}

		group.POST("/scan", handlers.HandleScan)
		group.GET("/audit", handlers.HandleAudit)
	}
}
