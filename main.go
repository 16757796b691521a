package main

import (
	"context"
	"time"

	"lab_visit_tracker/app"
	"lab_visit_tracker/db"
	"lab_visit_tracker/routes"

	"go.uber.org/zap"
)

func main() {
	app.LoadEnv()
	application := app.MustNew()
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	app.BootstrapFirstAdmin(ctx, application.Config, db.NewRepo(application.DB), application.Log)
	cancel()

	routes.RegisterRoutes(application.Router, application)

	application.Log.Info("listening", zap.String("port", application.Config.Port))
	if err := application.Router.Run(":" + application.Config.Port); err != nil {
		application.Log.Error("server stopped", zap.Error(err))
	}
}
