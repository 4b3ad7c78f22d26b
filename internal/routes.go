package internal

import (
	"dupguard/internal/controllers"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"net/http"
)

func InitRoutes(adminController *controllers.AdminController, conf *structures.Config) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()
	routers.Use(providers.BearerAuth(conf.WebServer.AdminToken))

	routers.Get("/policy", http.HandlerFunc(adminController.GetPolicy))
	routers.Post("/policy", http.HandlerFunc(adminController.SetPolicy))
	routers.Post("/policy/channels", http.HandlerFunc(adminController.EditChannels))
	routers.Post("/policy/users", http.HandlerFunc(adminController.EditUsers))
	routers.Get("/records", http.HandlerFunc(adminController.GetRecords))
	routers.Post("/records/remove", http.HandlerFunc(adminController.RemoveRecords))
	routers.Post("/records/clear", http.HandlerFunc(adminController.ClearRecords))
	routers.Post("/flags/clear", http.HandlerFunc(adminController.ClearFlags))
	routers.Post("/scan", http.HandlerFunc(adminController.Scan))
	return routers
}
