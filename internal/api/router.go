package api

import (
	"net/http"

	"medicine-dispatch/internal/api/middleware"
	"medicine-dispatch/internal/modules/device"
	"medicine-dispatch/internal/modules/inventory"
	"medicine-dispatch/internal/modules/logistics"
	"medicine-dispatch/internal/modules/medicines"
	"medicine-dispatch/internal/modules/orders"
	"medicine-dispatch/internal/modules/pickuppoints"

	"github.com/labstack/echo/v4"
)

// Handlers bundles the HTTP handlers of every module.
type Handlers struct {
	Orders       *orders.Handler
	Logistics    *logistics.Handler
	Assign       *logistics.AssignHandler
	Inventory    *inventory.Handler
	Medicines    *medicines.Handler
	PickupPoints *pickuppoints.Handler
	Device       *device.Handler
}

// SetupRoutes sets up all the API endpoints for the application.
func SetupRoutes(e *echo.Echo, h Handlers, jwtSecret, apiKeyHash string) {
	// Initialize the JWT authentication middleware
	authMiddleware := middleware.JWTMAuth(jwtSecret)
	// Initialize an Admin role authorization middleware
	adminRequired := middleware.AdminRequired()
	// Mutations of machines, slots and orders also need the operator API key.
	apiKey := middleware.APIKeyAuth(apiKeyHash)

	// --- Public Routes ---
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Medicine dispatch backend"})
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	v1 := e.Group("/api/v1")

	// --- Device bridge (API key only) ---
	device.RegisterRoutes(v1.Group("/mqtt-handlers", apiKey), h.Device)

	// --- Order Routes ---
	orderGroup := v1.Group("/orders", authMiddleware)
	{
		orderGroup.POST("", h.Orders.CreateOrder, apiKey)
		orderGroup.GET("", h.Orders.ListMyOrders)
		orderGroup.GET("/:orderId", h.Orders.GetOrderDetails)
		orderGroup.PUT("/:orderId/cancel", h.Orders.CancelOrder, apiKey)
	}

	// --- Machines, slots and telemetry ---
	machineGroup := v1.Group("/machines", authMiddleware)
	{
		machineGroup.GET("", h.Logistics.SearchMachines)
		machineGroup.POST("", h.Logistics.CreateMachine, apiKey)
		machineGroup.GET("/:machineId", h.Logistics.GetMachine)
		machineGroup.PUT("/:machineId", h.Logistics.UpdateMachine, apiKey)
		machineGroup.DELETE("/:machineId", h.Logistics.DeleteMachine, apiKey)
		machineGroup.GET("/:machineId/statistics", h.Logistics.ListStatistics)
		machineGroup.GET("/:machineId/visits", h.PickupPoints.ListMachineVisits)
		machineGroup.POST("/:machineId/visits", h.PickupPoints.CreateVisit, adminRequired)

		machineGroup.GET("/:machineId/slots", h.Inventory.ListSlots)
		machineGroup.POST("/:machineId/slots", h.Inventory.CreateSlot, apiKey)
	}

	slotGroup := v1.Group("/slots", authMiddleware)
	{
		slotGroup.GET("/:slotId", h.Inventory.GetSlot)
		slotGroup.PUT("/:slotId", h.Inventory.AdjustSlot, apiKey)
		slotGroup.DELETE("/:slotId", h.Inventory.DeleteSlot, apiKey)
	}

	// --- Catalog and schedule ---
	medicineGroup := v1.Group("/medicines", authMiddleware)
	{
		medicineGroup.GET("", h.Medicines.ListMedicines)
		medicineGroup.POST("", h.Medicines.CreateMedicine, adminRequired)
		medicineGroup.GET("/:medicineId", h.Medicines.GetMedicine)
	}

	pointGroup := v1.Group("/pickup-points", authMiddleware)
	{
		pointGroup.GET("", h.PickupPoints.ListPickupPoints)
		pointGroup.POST("", h.PickupPoints.CreatePickupPoint, adminRequired)
		pointGroup.GET("/:pointId", h.PickupPoints.GetPickupPoint)
		pointGroup.DELETE("/:pointId", h.PickupPoints.DeletePickupPoint, adminRequired)
	}

	v1.DELETE("/visits/:visitId", h.PickupPoints.DeleteVisit, authMiddleware, adminRequired)

	// --- Logistics & Tracking Routes ---
	routeGroup := v1.Group("/routes", authMiddleware)
	{
		routeGroup.POST("/optimize", h.Logistics.OptimizeRoute)
		routeGroup.POST("/distance", h.Logistics.CalculateDistance)
	}
	e.GET("/ws/orders/:orderId/track", h.Logistics.HandleTracking, authMiddleware)

	// --- Admin Routes ---
	adminGroup := v1.Group("/admin", authMiddleware, adminRequired)
	{
		// Order Management
		adminGroup.GET("/orders", h.Orders.ListAllOrders)
		adminGroup.POST("/orders/:orderId/reassign", h.Orders.ReassignOrder, apiKey)

		// Machine Management
		logistics.RegisterAdminRoutes(adminGroup, h.Logistics, apiKey)
		logistics.RegisterAdminRoutesAssign(adminGroup, h.Assign)
	}
}
