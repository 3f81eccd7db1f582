package main

import "github.com/ApexLeVraiJonathan/eve-trade-profit-tracker-sub000/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
