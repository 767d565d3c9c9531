package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "productflow/controllers"
	"productflow/middleware"
	"productflow/realtime"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

// Dependencies is what the route table needs to build its controllers.
type Dependencies struct {
	Store       store.Store
	Lifecycle   *services.Lifecycle
	Issuer      *utils.TokenIssuer
	Hub         *realtime.Hub
	RateLimit   int
	RateStorage fiber.Storage
}

var requestLog = logger.Config{
	Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
}

func SetupAuthRoutes(app *fiber.App, deps Dependencies) {
	authController := controller.NewAuthController(deps.Store, deps.Issuer)

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(requestLog))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", middleware.WriteRateLimiter(deps.RateLimit, deps.RateStorage), authController.Register)
	auth.Post("/login", middleware.WriteRateLimiter(deps.RateLimit, deps.RateStorage), authController.Login)
	auth.Post("/refresh", authController.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected(deps.Issuer, deps.Store))
	protectedAuth.Post("/logout", authController.Logout)
	protectedAuth.Post("/change-password", authController.ChangePassword)
	protectedAuth.Get("/me", authController.GetCurrentUser)

	utils.Component("routes").Info("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	teamController := controller.NewTeamController(deps.Lifecycle)
	workItemController := controller.NewWorkItemController(deps.Lifecycle)
	assignmentController := controller.NewAssignmentController(deps.Lifecycle)
	catalogController := controller.NewCatalogController(deps.Lifecycle.Catalog())
	eventsController := controller.NewEventsController(deps.Lifecycle, deps.Hub)

	// Registered ahead of the /api/v1 group so the group middleware never
	// wraps an upgraded connection.
	app.Get("/api/v1/teams/:teamId/workspaces/:workspaceId/events",
		middleware.Protected(deps.Issuer, deps.Store),
		middleware.RequireTeamMember(deps.Store),
		eventsController.Upgrade,
		websocket.New(eventsController.Stream),
	)

	api := app.Group("/api/v1",
		logger.New(requestLog),
		middleware.Protected(deps.Issuer, deps.Store),
		middleware.WriteRateLimiter(deps.RateLimit, deps.RateStorage),
	)

	api.Get("/catalog", catalogController.GetCatalog)

	api.Post("/teams", teamController.CreateTeam)
	api.Get("/teams", teamController.GetTeams)

	// Team scoped routes
	team := api.Group("/teams/:teamId", middleware.RequireTeamMember(deps.Store))
	team.Get("/members", teamController.GetMembers)
	team.Post("/members", teamController.AddMember)
	team.Put("/members/:userId", teamController.UpdateMemberRole)
	team.Delete("/members/:userId", teamController.RemoveMember)
	team.Post("/workspaces", teamController.CreateWorkspace)
	team.Get("/workspaces", teamController.GetWorkspaces)
	team.Delete("/workspaces/:workspaceId", teamController.DeleteWorkspace)

	// Workspace scoped routes
	ws := team.Group("/workspaces/:workspaceId")
	ws.Get("/permissions", workItemController.GetPermissions)

	ws.Get("/work-items", workItemController.GetWorkItems)
	ws.Post("/work-items", workItemController.CreateWorkItem)
	ws.Get("/work-items/:id", workItemController.GetWorkItem)
	ws.Put("/work-items/:id", workItemController.UpdateWorkItem)
	ws.Delete("/work-items/:id", workItemController.DeleteWorkItem)
	ws.Post("/work-items/:id/transition", workItemController.TransitionWorkItem)
	ws.Get("/work-items/:id/history", workItemController.GetHistory)

	ws.Post("/work-items/:id/review/request", workItemController.RequestReview)
	ws.Post("/work-items/:id/review/approve", workItemController.ApproveReview)
	ws.Post("/work-items/:id/review/reject", workItemController.RejectReview)
	ws.Put("/work-items/:id/review/settings", workItemController.UpdateReviewSettings)

	ws.Get("/assignments", assignmentController.GetAssignments)
	ws.Post("/assignments", assignmentController.AssignPhase)
	ws.Delete("/assignments/:userId/:phase", assignmentController.RevokePhase)
}
