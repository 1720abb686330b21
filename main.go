package main

import (
	"outreach-service/app"
	"outreach-service/pkg/observability"
)

func main() {
	observability.StartProfiling("outreach-service")
	app.Run()
}
