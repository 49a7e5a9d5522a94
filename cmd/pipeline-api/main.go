package main

import (
	"fac-data-pipeline/internal/api"
	"fac-data-pipeline/internal/api/handler"
	"fac-data-pipeline/internal/store"
	"fac-data-pipeline/pkg/router"
)

func main() {
	runs, err := store.OpenRuns("runs.db")
	if err != nil {
		panic(err)
	}
	defer runs.Close()

	r := router.New()
	api.RegisterRoutes(r, handler.NewRunHandler(runs))
	r.Start(":8080")
}
