package main

import (
	"github.com/arcsolve/relay/internal/app"
	"github.com/arcsolve/relay/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewGatewayApp().Run()
}
